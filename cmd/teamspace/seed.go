package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alecgard/teamspace/internal/config"
	"github.com/alecgard/teamspace/internal/project"
	"github.com/alecgard/teamspace/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const demoPassword = "teamspace-demo"

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo users and a demo project",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

var demoUsers = []user.CreateUserInput{
	{Name: "Ada Lovelace", Email: "ada@example.com", Password: demoPassword},
	{Name: "Grace Hopper", Email: "grace@example.com", Password: demoPassword},
	{Name: "Linus Torvalds", Email: "linus@example.com", Password: demoPassword},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := user.NewStore(pool, cfg.Auth.SessionTTL)
	projects := project.NewStore(pool, nil)

	// Check if seed has already run.
	_, err = users.GetByEmail(ctx, demoUsers[0].Email)
	if err == nil {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("checking existing users: %w", err)
	}

	created := make([]*user.User, 0, len(demoUsers))
	for _, in := range demoUsers {
		u, err := users.Create(ctx, in)
		if err != nil {
			return fmt.Errorf("creating user %q: %w", in.Email, err)
		}
		slog.Info("created user", "email", u.Email, "id", u.ID)
		created = append(created, u)
	}

	p, err := projects.CreateProject(ctx, project.CreateProjectInput{Name: "Demo Project", Weeks: 4}, created[0].ID)
	if err != nil {
		return fmt.Errorf("creating demo project: %w", err)
	}
	for _, u := range created[1:] {
		if _, err := projects.AddMember(ctx, p.ID, u.ID); err != nil {
			return fmt.Errorf("adding %s to demo project: %w", u.Email, err)
		}
	}
	slog.Info("created demo project", "id", p.ID, "name", p.Name)

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Project:   %s (%s), %d weeks\n", p.Name, p.ID, p.Weeks)
	for _, u := range created {
		fmt.Printf("User:      %s / %s\n", u.Email, demoPassword)
	}
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST http://localhost:8080/api/v1/auth/login -d '{\"email\":\"%s\",\"password\":\"%s\"}'\n", created[0].Email, demoPassword)

	return nil
}
