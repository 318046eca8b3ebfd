package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/resilience"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// healthReport is the combined provider, store and breaker status.
type healthReport struct {
	Status    string            `json:"status"`
	Providers map[string]bool   `json:"providers"`
	Store     string            `json:"store"`
	Breakers  map[string]string `json:"breakers,omitempty"`
}

type providerHealth interface {
	Health(ctx context.Context) map[string]bool
}

type pinger interface {
	Ping(ctx context.Context) error
}

// checkHealth is degraded when the store is unreachable or no provider
// answers. A nil dependency is reported as unconfigured.
func checkHealth(ctx context.Context, providers providerHealth, st pinger, breakers *resilience.Breakers) healthReport {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rep := healthReport{Status: statusOK, Providers: map[string]bool{}, Store: "unconfigured"}

	if providers != nil {
		rep.Providers = providers.Health(ctx)
		anyUp := false
		for _, up := range rep.Providers {
			anyUp = anyUp || up
		}
		if !anyUp {
			rep.Status = statusDegraded
		}
	}

	if st != nil {
		rep.Store = statusOK
		if err := st.Ping(ctx); err != nil {
			rep.Store = err.Error()
			rep.Status = statusDegraded
		}
	}

	if breakers != nil {
		rep.Breakers = map[string]string{}
		for name, state := range breakers.States() {
			rep.Breakers[name] = state.String()
		}
	}
	return rep
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check provider, store and circuit breaker status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		return writeJSON(cmd.OutOrStdout(), checkHealth(ctx, env.Router, env.Store, env.Breakers))
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
