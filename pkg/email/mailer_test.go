package email_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stablebook/billing/pkg/email"
)

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	valid := email.SendEmailParams{
		SendTo:   "owner@example.com",
		Subject:  "Hello",
		BodyHTML: "<p>Hi</p>",
	}

	t.Run("valid params", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, valid.Validate())
	})

	t.Run("bad recipient", func(t *testing.T) {
		t.Parallel()
		p := valid
		p.SendTo = "not-an-email"
		assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()
		p := valid
		p.Subject = ""
		assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})

	t.Run("missing body", func(t *testing.T) {
		t.Parallel()
		p := valid
		p.BodyHTML = ""
		assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})
}

func TestSubscriptionExpiredEmail(t *testing.T) {
	t.Parallel()

	params := email.SubscriptionExpiredEmail(email.SubscriptionExpiredParams{
		SendTo:   "owner@example.com",
		PlanName: "Trainer",
		EndedAt:  time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	})

	assert.NoError(t, params.Validate())
	assert.Equal(t, "subscription-expired", params.Tag)
	assert.Contains(t, params.Subject, "Trainer")
	assert.Contains(t, params.BodyHTML, "March 14, 2025")
}

func TestNewPostmarkClient_Config(t *testing.T) {
	t.Parallel()

	t.Run("missing tokens", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewPostmarkClient(email.Config{
			SenderEmail:  "billing@stablebook.app",
			SupportEmail: "support@stablebook.app",
		})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})

	t.Run("invalid sender address", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewPostmarkClient(email.Config{
			PostmarkServerToken:  "srv",
			PostmarkAccountToken: "acc",
			SenderEmail:          "nope",
			SupportEmail:         "support@stablebook.app",
		})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})
}
