package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-outreach/adapters/gocommand"
	"github.com/goliatone/go-outreach/bulklist"
	outreachcommand "github.com/goliatone/go-outreach/command"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/httpapi"
	"github.com/goliatone/go-outreach/push"
	"github.com/goliatone/go-outreach/webhooks"
)

type envLoader func() (Env, error)

func newRootCmd() *cobra.Command {
	return newRootCmdWith(loadEnv)
}

func newRootCmdWith(load envLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "outreach",
		Short:         "B2B outreach webhooks, job queue and content push",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newEnqueueBulkCmd(load),
		newPushCmd(load),
		newStatusCmd(load),
	)
	return cmd
}

// withApp opens the app for one command and closes it afterwards.
func withApp(ctx context.Context, load envLoader, run func(context.Context, *app) error) error {
	env, err := load()
	if err != nil {
		return fmt.Errorf("outreach: environment: %w", err)
	}
	a, err := openApp(ctx, env)
	if err != nil {
		return err
	}
	runErr := run(ctx, a)
	closeCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// withBus mounts the runtime facade on a command bus for one-shot commands.
func withBus(ctx context.Context, a *app, run func(context.Context) error) error {
	facade, err := a.runtime.Facade()
	if err != nil {
		return err
	}
	bus, err := gocommand.NewBus()
	if err != nil {
		return err
	}
	defer bus.Close()
	if err := bus.Mount(facade); err != nil {
		return err
	}
	return run(ctx)
}

func newServeCmd(load envLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), load, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	if err := a.client.Migrate(ctx); err != nil {
		return fmt.Errorf("outreach: migrate: %w", err)
	}
	if err := a.runtime.Start(ctx); err != nil {
		return err
	}

	opts := []httpapi.Option{
		httpapi.WithMetrics(a.metrics),
		httpapi.WithMetricsHandler(a.metrics.Handler()),
		httpapi.WithHealthCheck(a.Ping),
	}
	if endpoint := a.runtime.Webhook(); endpoint != nil {
		handler := webhooks.NewHTTPHandler(endpoint, a.runtime.Config().Webhook.MaxBodyBytes)
		opts = append(opts, httpapi.WithWebhook(a.env.WebhookPath, handler))
	}
	server := &http.Server{
		Addr:              a.env.HTTPAddr,
		Handler:           httpapi.NewRouter(a.runtime, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.env.ShutdownTimeout)
		defer cancel()
		a.logger.Info("http server shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newMigrateCmd(load envLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				if err := a.client.Migrate(ctx); err != nil {
					return fmt.Errorf("outreach: migrate: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newEnqueueBulkCmd(load envLoader) *cobra.Command {
	var (
		listID   string
		criteria string
		attempts int
		jobID    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue-bulk",
		Short: "Enqueue a bulk list job",
		Example: `  outreach enqueue-bulk --list vip-uk \
    --criteria '{"logic":"and","rules":[{"field":"country","op":"eq","value":"UK"},{"field":"tags","op":"contains","value":"vip"}]}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var selection core.Criteria
			if err := json.Unmarshal([]byte(criteria), &selection); err != nil {
				return fmt.Errorf("outreach: criteria is not valid JSON: %w", err)
			}
			msg := outreachcommand.EnqueueBulkListMessage{
				Request: bulklist.Request{ListID: listID, Criteria: selection},
				Options: core.JobOptions{JobID: jobID, Attempts: attempts},
			}
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				return withBus(ctx, a, func(ctx context.Context) error {
					id, err := gocommand.EnqueueBulkList(ctx, msg)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&listID, "list", "", "target list id")
	cmd.Flags().StringVar(&criteria, "criteria", "{}", "selection criteria as JSON")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "max attempts, 0 uses the configured default")
	cmd.Flags().StringVar(&jobID, "job-id", "", "deterministic job id")
	_ = cmd.MarkFlagRequired("list")
	return cmd
}

func newPushCmd(load envLoader) *cobra.Command {
	var (
		kind   string
		target string
		jobID  string
	)
	cmd := &cobra.Command{
		Use:   "push [content.json]",
		Short: "Schedule a content push to the CRM",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readContent(cmd, args)
			if err != nil {
				return err
			}
			content, err := push.DecodeContent(push.ContentKind(kind), raw)
			if err != nil {
				return err
			}
			msg := outreachcommand.SchedulePushMessage{
				Content:   content,
				TargetURL: target,
				Options:   core.JobOptions{JobID: jobID},
			}
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				return withBus(ctx, a, func(ctx context.Context) error {
					id, err := gocommand.SchedulePush(ctx, msg)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(push.KindArticle), "content kind: article, case_study, webinar or whitepaper")
	cmd.Flags().StringVar(&target, "target", "", "CRM base URL")
	cmd.Flags().StringVar(&jobID, "job-id", "", "deterministic job id")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

// readContent reads the content JSON from the file argument, or stdin.
func readContent(cmd *cobra.Command, args []string) (map[string]any, error) {
	var (
		body []byte
		err  error
	)
	if len(args) == 1 && args[0] != "-" {
		body, err = os.ReadFile(args[0])
	} else {
		body, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return nil, fmt.Errorf("outreach: read content: %w", err)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("outreach: content is not valid JSON: %w", err)
	}
	return raw, nil
}

func newStatusCmd(load envLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job's status as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				return withBus(ctx, a, func(ctx context.Context) error {
					status, err := gocommand.GetJobStatus(ctx, args[0])
					if err != nil {
						return err
					}
					encoder := json.NewEncoder(cmd.OutOrStdout())
					encoder.SetIndent("", "  ")
					return encoder.Encode(status)
				})
			})
		},
	}
}
