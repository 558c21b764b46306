package email

import (
	"fmt"
	"html"
	"time"
)

// SubscriptionExpiredParams feeds the expiration notice template.
type SubscriptionExpiredParams struct {
	SendTo   string
	PlanName string
	EndedAt  time.Time
}

// SubscriptionExpiredEmail builds the notice sent when a subscription lapses.
func SubscriptionExpiredEmail(p SubscriptionExpiredParams) SendEmailParams {
	plan := html.EscapeString(p.PlanName)
	body := fmt.Sprintf(
		`<h2>Your %s subscription has ended</h2>
<p>Your StableBook %s plan expired on %s. Horses above the free tier limit
have been paused and will be restored as soon as you renew.</p>
<p><a href="https://stablebook.app/billing">Renew your plan</a></p>`,
		plan, plan, p.EndedAt.Format("January 2, 2006"),
	)

	return SendEmailParams{
		SendTo:   p.SendTo,
		Subject:  fmt.Sprintf("Your StableBook %s plan has expired", p.PlanName),
		BodyHTML: body,
		Tag:      "subscription-expired",
	}
}
