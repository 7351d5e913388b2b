package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"signflow/backend/internal/auth"
	"signflow/backend/internal/services"
	"signflow/backend/pkg/models"
)

type seedWorkflow struct {
	name       string
	mode       models.SigningMode
	validDays  int
	recipients []services.TemplateRecipientInput
}

var seedWorkflows = []seedWorkflow{
	{
		name:      "Mutual NDA",
		mode:      models.SigningModeSequential,
		validDays: 14,
		recipients: []services.TemplateRecipientInput{
			{Role: "discloser", Priority: 1, DeliveryType: models.DeliveryTypeNeedsToSign, DefaultUser: &models.User{Email: "legal@localhost", Name: "Legal"}},
			{Role: "recipient", Priority: 2, DeliveryType: models.DeliveryTypeNeedsToSign, DefaultUser: &models.User{Email: "partner@localhost", Name: "Partner"}},
			{Role: "archive", Priority: 3, DeliveryType: models.DeliveryTypeCC, DefaultUser: &models.User{Email: "records@localhost"}},
		},
	},
	{
		name:      "Board Resolution",
		mode:      models.SigningModeParallel,
		validDays: 7,
		recipients: []services.TemplateRecipientInput{
			{Role: "director-a", Priority: 1, DeliveryType: models.DeliveryTypeNeedsToSign, DefaultUser: &models.User{Email: "director.a@localhost"}},
			{Role: "director-b", Priority: 1, DeliveryType: models.DeliveryTypeNeedsToSign, DefaultUser: &models.User{Email: "director.b@localhost"}},
		},
	},
}

func newSeedCmd(configFile *string) *cobra.Command {
	var (
		owner string
		start bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create sample templates and workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd.Context(), *configFile, owner, start)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", auth.DevOwner, "owner email of the seeded workflows")
	cmd.Flags().BoolVar(&start, "start", false, "start the seeded workflows and wait for dispatch")
	return cmd
}

func seed(ctx context.Context, configFile, owner string, start bool) error {
	a, err := loadApp(ctx, configFile)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger.With("owner", owner)

	listed := a.svc.ListWorkflows(ctx, owner)
	if listed.IsError() {
		return fmt.Errorf("list existing workflows: %s", listed.Message)
	}
	existing := make(map[string]bool, len(listed.Data))
	for _, w := range listed.Data {
		existing[w.Name] = true
	}

	if start {
		a.queue.Start(ctx)
	}

	for _, sw := range seedWorkflows {
		if existing[sw.name] {
			logger.Info("skipping existing workflow", "name", sw.name)
			continue
		}

		tmpl := a.svc.CreateTemplate(ctx, owner, services.CreateTemplateRequest{
			Name:        sw.name,
			SigningMode: sw.mode,
			Recipients:  sw.recipients,
		})
		if tmpl.IsError() {
			return fmt.Errorf("create template %q: %s", sw.name, tmpl.Message)
		}

		wf := a.svc.CreateWorkflow(ctx, owner, services.CreateWorkflowRequest{
			TemplateID:           tmpl.Data.ID,
			Name:                 sw.name,
			ValidUntil:           time.Now().AddDate(0, 0, sw.validDays),
			ReminderIntervalDays: 2,
			AutoReminder:         true,
		})
		if wf.IsError() {
			return fmt.Errorf("create workflow %q: %s", sw.name, wf.Message)
		}
		logger.Info("seeded workflow", "name", sw.name, "workflow_id", wf.Data.ID)

		if start {
			if res := a.svc.StartWorkflow(ctx, wf.Data.ID); res.IsError() {
				return fmt.Errorf("start workflow %q: %s", sw.name, res.Message)
			}
		}
	}

	if start {
		flushCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := a.queue.Flush(flushCtx); err != nil {
			return fmt.Errorf("wait for dispatch: %w", err)
		}
	}
	logger.Info("seeding complete")
	return nil
}
