package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/glrule"
	"github.com/sells-group/invoice-cli/internal/mapping"
	"github.com/sells-group/invoice-cli/internal/model"
)

var (
	rulesFile        string
	rulesUserID      string
	rulesDescription string
	rulesAmount      string
	rulesVendor      string
	rulesDate        string
	rulesAll         bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Evaluate and import GL coding rules",
}

var rulesEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a line item against GL rules",
	Long:  "Evaluates a line item against rules from --rules and, when --user is set, the user's stored rules. Prints the top suggestions, or every match with --all.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var rules []model.GLRule
		if rulesFile != "" {
			loaded, err := glrule.LoadRules(rulesFile)
			if err != nil {
				return err
			}
			rules = append(rules, loaded...)
		}
		if rulesUserID != "" {
			stored, err := storedRules(ctx, rulesUserID)
			if err != nil {
				return err
			}
			rules = append(rules, stored...)
		}
		if len(rules) == 0 {
			return eris.New("rules: no rules to evaluate; pass --rules or --user")
		}

		req := evaluateRequest{
			Description: rulesDescription,
			VendorName:  rulesVendor,
			Date:        rulesDate,
		}
		if rulesAmount != "" {
			d, err := decimal.NewFromString(rulesAmount)
			if err != nil {
				return eris.Wrapf(err, "rules: parse amount %q", rulesAmount)
			}
			req.Amount = decimal.NullDecimal{Decimal: d, Valid: true}
		}

		return writeJSON(cmd.OutOrStdout(), evaluateRules(rules, req, rulesAll))
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Store GL rules from a YAML file for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rules, err := glrule.LoadRules(rulesFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		for _, r := range rules {
			r.UserID = rulesUserID
			if err := st.SaveGLRule(ctx, r); err != nil {
				return err
			}
		}
		zap.L().Info("gl rules imported", zap.String("user_id", rulesUserID), zap.Int("rules", len(rules)))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules for %s\n", len(rules), rulesUserID)
		return nil
	},
}

func init() {
	rulesEvaluateCmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rules file")
	rulesEvaluateCmd.Flags().StringVar(&rulesUserID, "user", "", "include the user's stored rules")
	rulesEvaluateCmd.Flags().StringVar(&rulesDescription, "description", "", "line item description")
	rulesEvaluateCmd.Flags().StringVar(&rulesAmount, "amount", "", "line item amount")
	rulesEvaluateCmd.Flags().StringVar(&rulesVendor, "vendor", "", "vendor name")
	rulesEvaluateCmd.Flags().StringVar(&rulesDate, "date", "", "invoice date")
	rulesEvaluateCmd.Flags().BoolVar(&rulesAll, "all", false, "print every matching rule instead of the top suggestions")

	rulesImportCmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rules file (required)")
	rulesImportCmd.Flags().StringVar(&rulesUserID, "user", "", "user the rules belong to (required)")
	_ = rulesImportCmd.MarkFlagRequired("rules")
	_ = rulesImportCmd.MarkFlagRequired("user")

	rulesCmd.AddCommand(rulesEvaluateCmd, rulesImportCmd)
	rootCmd.AddCommand(rulesCmd)
}

// evaluateRequest is a line item to score, shared by the CLI and HTTP API.
type evaluateRequest struct {
	UserID      string              `json:"user_id,omitempty"`
	Description string              `json:"description"`
	Amount      decimal.NullDecimal `json:"amount"`
	VendorName  string              `json:"vendor_name"`
	Date        string              `json:"date"`
}

// evaluateRules scores req against rules. all returns every match.
func evaluateRules(rules []model.GLRule, req evaluateRequest, all bool) []glrule.Match {
	item := glrule.LineItemContext{
		Description: req.Description,
		Amount:      req.Amount,
		VendorName:  req.VendorName,
	}
	if d, ok := mapping.ParseDate(req.Date); ok {
		item.Date = d
	}

	ev := glrule.NewEvaluator(rules)
	var matches []glrule.Match
	if all {
		matches = ev.Evaluate(item)
	} else {
		matches = ev.Suggest(item)
	}
	if matches == nil {
		matches = []glrule.Match{}
	}
	return matches
}

func storedRules(ctx context.Context, userID string) ([]model.GLRule, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck
	return st.ListGLRules(ctx, userID)
}
