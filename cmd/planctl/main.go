// planctl sets a user's subscription tier directly, for operators and
// local environments where the billing webhook is not wired up.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stagehand/internal/domain"
	"stagehand/internal/infra"
)

func main() {
	var (
		idFlag     string
		emailFlag  string
		planFlag   string
		resetFlag  bool
		monthsFlag int
	)

	flag.StringVar(&idFlag, "id", "", "user ID to update (UUID)")
	flag.StringVar(&emailFlag, "email", "", "user email to update")
	flag.StringVar(&planFlag, "plan", "basic", "plan to assign (trial, basic, standard, pro, enterprise)")
	flag.BoolVar(&resetFlag, "reset-usage", false, "reset generation_count to 0")
	flag.IntVar(&monthsFlag, "months", 1, "subscription length in months")
	flag.Parse()

	userID := strings.TrimSpace(idFlag)
	email := strings.TrimSpace(emailFlag)
	plan := domain.PlanType(strings.ToLower(strings.TrimSpace(planFlag)))

	if userID == "" && email == "" {
		exitWithError(errors.New("either -id or -email must be provided"))
	}
	if !plan.Valid() {
		exitWithError(fmt.Errorf("unsupported plan %q", plan))
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		exitWithError(err)
	}
	defer pool.Close()

	endsAt := time.Now().UTC().AddDate(0, monthsFlag, 0)
	query := `
		UPDATE profiles
		SET plan_type = $1,
		    subscription_ends_at = $2,
		    generation_count = CASE WHEN $3 THEN 0 ELSE generation_count END,
		    updated_at = now()
		WHERE ($4 <> '' AND id::text = $4) OR ($5 <> '' AND email = $5)`

	tag, err := pool.Exec(ctx, query, string(plan), endsAt, resetFlag, userID, email)
	if err != nil {
		exitWithError(err)
	}
	if tag.RowsAffected() == 0 {
		exitWithError(errors.New("no matching profile"))
	}
	fmt.Printf("updated %d profile(s) to plan %s (until %s)\n", tag.RowsAffected(), plan, endsAt.Format("2006-01-02"))
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "planctl:", err)
	os.Exit(1)
}
