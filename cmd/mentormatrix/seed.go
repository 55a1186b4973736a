package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mentormatrix/internal/app"
	"mentormatrix/internal/database"
	"mentormatrix/internal/membership"
	"mentormatrix/pkg/types"
)

func newSeedCommand(c *cli) *cobra.Command {
	var (
		users     []string
		chatName  string
		projectID string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create users and optionally a project group chat",
		Example: `  mentormatrix seed --user alice:Alice --user bob:Bob:bob@example.com \
    --project capstone --chat-name "Capstone team"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(users) == 0 {
				return errors.New("at least one --user is required")
			}
			parsed := make([]types.User, 0, len(users))
			for _, arg := range users {
				u, err := parseUser(arg)
				if err != nil {
					return err
				}
				parsed = append(parsed, u)
			}

			store, _, err := app.OpenStore(c.config, c.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			for i := range parsed {
				created, err := ensureUser(ctx, store, &parsed[i])
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(out, "created user %s\n", parsed[i].ID)
				}
			}

			if projectID == "" {
				return nil
			}
			if chatName == "" {
				chatName = projectID
			}
			ids := make([]string, 0, len(parsed))
			for _, u := range parsed {
				ids = append(ids, u.ID)
			}
			chat, created, err := membership.NewManager(store, c.logger).CreateGroupChat(ctx, ids[0], types.CreateChatRequest{
				Name:         chatName,
				ProjectID:    projectID,
				Participants: ids,
			})
			if err != nil {
				return fmt.Errorf("failed to create chat: %w", err)
			}
			verb := "existing"
			if created {
				verb = "created"
			}
			fmt.Fprintf(out, "%s chat %s (%s)\n", verb, chat.ID, chat.Name)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&users, "user", "u", nil, "user as id:name[:email], repeatable")
	cmd.Flags().StringVar(&projectID, "project", "", "project id for a group chat joining every --user")
	cmd.Flags().StringVar(&chatName, "chat-name", "", "group chat name (defaults to the project id)")
	return cmd
}

func parseUser(arg string) (types.User, error) {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return types.User{}, fmt.Errorf("invalid --user %q: want id:name[:email]", arg)
	}
	u := types.User{ID: parts[0], Name: parts[1], Email: parts[0] + "@mentormatrix.local"}
	if len(parts) == 3 && parts[2] != "" {
		u.Email = parts[2]
	}
	return u, nil
}

// ensureUser creates u unless its id already exists.
func ensureUser(ctx context.Context, store *database.Manager, u *types.User) (bool, error) {
	if _, err := store.FindUserIdentity(ctx, u.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return false, err
	}
	if err := store.CreateUser(ctx, u); err != nil {
		return false, fmt.Errorf("failed to create user %s: %w", u.ID, err)
	}
	return true, nil
}
