package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workorders/internal/app"
	"workorders/internal/engine"
)

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	var id, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				o, err := a.Engine.CreateOrg(ctx, id, name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrValue(o)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "organization id")
	add.Flags().StringVar(&name, "name", "", "display name")
	_ = add.MarkFlagRequired("id")
	list := &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListOrgs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrValue(items)
			})
		},
	}
	org.AddCommand(add, list)
	return org
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users of an organization"}
	var orgID string
	var in engine.UserInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.UpsertUser(ctx, orgID, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrValue(u)
			})
		},
	}
	add.Flags().StringVar(&orgID, "org", "", "organization id")
	add.Flags().StringVar(&in.ID, "id", "", "user id")
	add.Flags().StringVar(&in.Name, "name", "", "display name")
	add.Flags().StringVar(&in.Email, "email", "", "email for notifications")
	add.Flags().StringVar(&in.Role, "role", "", "role, e.g. technician or supervisor")
	_ = add.MarkFlagRequired("org")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListUsers(ctx, orgID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Email"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.Email})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = list.MarkFlagRequired("org")
	user.AddCommand(add, list)
	return user
}

func branchCmd() *cobra.Command {
	branch := &cobra.Command{Use: "branch", Short: "Manage branches"}
	var orgID, id, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				b, err := a.Engine.CreateBranch(ctx, orgID, id, name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrValue(b)
			})
		},
	}
	add.Flags().StringVar(&orgID, "org", "", "organization id")
	add.Flags().StringVar(&id, "id", "", "branch id")
	add.Flags().StringVar(&name, "name", "", "branch name")
	_ = add.MarkFlagRequired("org")
	_ = add.MarkFlagRequired("id")
	branch.AddCommand(add)
	return branch
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{Use: "order", Short: "Work orders"}
	order.AddCommand(orderListCmd(), orderShowCmd(), orderCreateCmd(), orderAssignCmd())
	return order
}

func orderListCmd() *cobra.Command {
	var opts engine.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders, newest number first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.List(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "ID", "State", "Assignee", "Branch", "Costs", "Updated"})
				for _, w := range res.Items {
					state := string(w.State)
					if w.Deleted {
						state += " (deleted)"
					}
					tw.AppendRow(table.Row{w.OrgSeq, w.ID, state, w.Assignee(), deref(w.BranchID), formatTotals(engine.CostTotals(w.Costs)), w.UpdatedAt})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("page %d", res.Page), fmt.Sprintf("%d total", res.Total)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization id")
	cmd.Flags().StringVar(&opts.State, "state", "", "state filter")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().StringVar(&opts.BranchID, "branch-id", "", "branch filter")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "page size")
	cmd.Flags().BoolVar(&opts.IncludeDeleted, "include-deleted", false, "include deleted orders")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func orderShowCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one work order with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w, err := a.Engine.Get(ctx, orgID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				fmt.Printf("#%d %s  state=%s assignee=%s\n", w.OrgSeq, w.ID, w.State, w.Assignee())
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "User", "From", "To", "Note"})
				for _, h := range w.History {
					from := ""
					if h.From != nil {
						from = string(*h.From)
					}
					tw.AppendRow(table.Row{h.TS, h.UserID, from, h.To, h.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func orderCreateCmd() *cobra.Command {
	var orgID string
	var in engine.CreateInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w, err := a.Engine.Create(ctx, orgID, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrValue(w)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&in.AssigneeID, "assignee-id", "", "assign to this user")
	cmd.Flags().StringVar(&in.AssigneeRole, "assignee-role", "", "assign to the first user with this role")
	cmd.Flags().StringVar(&in.BranchID, "branch-id", "", "branch")
	cmd.Flags().StringVar(&in.TemplateID, "template-id", "", "template reference")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func orderAssignCmd() *cobra.Command {
	var orgID, note string
	cmd := &cobra.Command{
		Use:   "assign <id> <assignee-id>",
		Short: "Assign or reassign a work order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w, err := a.Engine.AssignWorkOrder(ctx, orgID, args[0], args[1], actorID(), note)
				if err != nil {
					return err
				}
				return printJSONOrValue(w)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in history")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func logCmd() *cobra.Command {
	logC := &cobra.Command{Use: "log", Short: "Activity log"}
	var orgID, entityID string
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListEvents(ctx, orgID, entityID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().StringVar(&orgID, "org", "", "organization id")
	tail.Flags().StringVar(&entityID, "entity-id", "", "only events of this entity")
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	_ = tail.MarkFlagRequired("org")
	logC.AddCommand(tail)
	return logC
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTotals(totals map[string]string) string {
	parts := make([]string, 0, len(totals))
	for cur, sum := range totals {
		parts = append(parts, sum+" "+cur)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

