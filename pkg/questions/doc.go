// Package questions is the metered action: a user asks a question and the
// service publishes it with a generated markdown answer.
//
// Quota enforcement lives with the caller. The HTTP layer evaluates the
// user's entitlement before Create and records usage after it, skipping the
// record when Create returns an existing question.
//
//	svc := questions.NewService(store, questions.NewTemplateGenerator(), logger)
//	res, err := svc.Create(ctx, questions.CreateRequest{
//		UserID:  userID,
//		Title:   "How do I verify Stripe webhooks?",
//		Content: "...",
//	})
package questions
