package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/lodgekit/lodgekit/internal/app"
	"github.com/lodgekit/lodgekit/internal/audit"
	"github.com/lodgekit/lodgekit/internal/authz"
	"github.com/lodgekit/lodgekit/internal/platform/cache"
	"github.com/lodgekit/lodgekit/internal/platform/db"
	"github.com/lodgekit/lodgekit/internal/shared"
	"github.com/lodgekit/lodgekit/internal/users"
	"github.com/lodgekit/lodgekit/jobs"
)

const usage = `usage: lodgekit <command> [flags]

commands:
  resolve            print a user's effective permission set
  view               print the full user view
  list-users         print all user accounts
  assign-roles       assign roles to a user
  assign-permissions grant or deny permissions directly
  assign-properties  assign properties to a user
  approve            approve a pending user
  suspend            suspend a user
  reactivate         reactivate a suspended user
  soft-delete        deactivate a user
  audit              print the audit timeline
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()

	cfg, err := app.LoadConfig()
	if err != nil {
		fatal("load config", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		fatal("connect database", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		fatal("connect redis", err)
	}
	defer redisClient.Close()

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer jobsClient.Close()

	userRepo := users.NewRepository(pool)
	authzRepo := authz.NewRepository(pool)
	locks := shared.NewAdminLock(redisClient, cfg.AdminLockTTL)
	recorder := jobs.NewQueueRecorder(jobsClient)
	authzSvc := authz.NewService(authzRepo, userRepo, recorder, locks, logger)
	userSvc := users.NewService(userRepo, authzSvc, authzSvc, authzRepo, recorder, logger)
	auditSvc := audit.NewService(audit.NewPgRepository(pool))

	if err := run(ctx, os.Args[1], os.Args[2:], authzSvc, userSvc, userRepo, auditSvc); err != nil {
		fatal(os.Args[1], err)
	}
}

func run(ctx context.Context, command string, args []string, authzSvc *authz.Service, userSvc *users.Service, userRepo *users.Repository, auditSvc *audit.Service) error {
	switch command {
	case "list-users":
		list, err := userRepo.ListUsers(ctx)
		if err != nil {
			return err
		}
		return printJSON(list)

	case "resolve":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		userID := fs.Int64("user", 0, "user id")
		_ = fs.Parse(args)
		keys, err := authzSvc.Resolver().EffectivePermissions(ctx, *userID)
		if err != nil {
			return err
		}
		return printJSON(keys)

	case "view":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		userID := fs.Int64("user", 0, "user id")
		_ = fs.Parse(args)
		view, err := authzSvc.UserView(ctx, *userID)
		if err != nil {
			return err
		}
		return printJSON(view)

	case "assign-roles":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		userID := fs.Int64("user", 0, "user id")
		roleList := fs.String("roles", "", "comma-separated role ids")
		property := fs.Int64("property", 0, "property scope (0 = global)")
		replace := fs.Bool("replace", false, "replace existing assignments")
		actor := fs.Int64("actor", 0, "acting admin user id")
		_ = fs.Parse(args)
		roleIDs, err := parseIDs(*roleList)
		if err != nil {
			return err
		}
		view, err := authzSvc.AssignRoles(ctx, authz.AssignRolesRequest{
			UserID:          *userID,
			RoleIDs:         roleIDs,
			PropertyID:      optionalID(*property),
			ReplaceExisting: *replace,
			ActorID:         *actor,
		})
		if err != nil {
			return err
		}
		return printJSON(view)

	case "assign-permissions":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		userID := fs.Int64("user", 0, "user id")
		permList := fs.String("permissions", "", "comma-separated permission ids")
		kind := fs.String("kind", "grant", "override kind: grant or deny")
		property := fs.Int64("property", 0, "property scope (0 = global)")
		replace := fs.Bool("replace", false, "replace existing overrides")
		reason := fs.String("reason", "", "override reason")
		actor := fs.Int64("actor", 0, "acting admin user id")
		_ = fs.Parse(args)
		permIDs, err := parseIDs(*permList)
		if err != nil {
			return err
		}
		items := make([]authz.OverrideItem, 0, len(permIDs))
		for _, id := range permIDs {
			items = append(items, authz.OverrideItem{
				PermissionID: id,
				Kind:         authz.OverrideKind(*kind),
				PropertyID:   optionalID(*property),
				Reason:       *reason,
			})
		}
		view, err := authzSvc.AssignPermissions(ctx, authz.AssignPermissionsRequest{
			UserID:          *userID,
			Overrides:       items,
			ReplaceExisting: *replace,
			ActorID:         *actor,
		})
		if err != nil {
			return err
		}
		return printJSON(view)

	case "assign-properties":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		userID := fs.Int64("user", 0, "user id")
		propertyList := fs.String("properties", "", "comma-separated property ids, first is primary in replace mode")
		replace := fs.Bool("replace", false, "replace existing assignments")
		actor := fs.Int64("actor", 0, "acting admin user id")
		_ = fs.Parse(args)
		ids, err := parseIDs(*propertyList)
		if err != nil {
			return err
		}
		view, err := authzSvc.AssignProperties(ctx, authz.AssignPropertiesRequest{
			UserID:          *userID,
			PropertyIDs:     ids,
			ReplaceExisting: *replace,
			ActorID:         *actor,
		})
		if err != nil {
			return err
		}
		return printJSON(view)

	case "approve":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		userID := fs.Int64("user", 0, "user id")
		role := fs.String("role", "", "default role name")
		propertyList := fs.String("properties", "", "comma-separated property ids")
		actor := fs.Int64("actor", 0, "acting admin user id")
		_ = fs.Parse(args)
		var ids []int64
		if *propertyList != "" {
			var err error
			if ids, err = parseIDs(*propertyList); err != nil {
				return err
			}
		}
		user, err := userSvc.Approve(ctx, users.ApproveRequest{
			UserID:          *userID,
			DefaultRoleName: *role,
			PropertyIDs:     ids,
			ActorID:         *actor,
		})
		if err != nil {
			return err
		}
		return printJSON(user)

	case "suspend", "reactivate", "soft-delete":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		userID := fs.Int64("user", 0, "user id")
		actor := fs.Int64("actor", 0, "acting admin user id")
		_ = fs.Parse(args)
		var (
			user users.User
			err  error
		)
		switch command {
		case "suspend":
			user, err = userSvc.Suspend(ctx, *userID, *actor)
		case "reactivate":
			user, err = userSvc.Reactivate(ctx, *userID, *actor)
		default:
			user, err = userSvc.SoftDelete(ctx, *userID, *actor)
		}
		if err != nil {
			return err
		}
		return printJSON(user)

	case "audit":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		subject := fs.Int64("subject", 0, "filter by subject user id")
		actor := fs.Int64("actor", 0, "filter by actor user id")
		action := fs.String("action", "", "filter by action label")
		page := fs.Int("page", 1, "page number")
		_ = fs.Parse(args)
		result, err := auditSvc.Timeline(ctx, audit.TimelineFilters{
			Subject: *subject,
			ActorID: *actor,
			Action:  *action,
			Page:    *page,
		})
		if err != nil {
			return err
		}
		return printJSON(result)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseIDs(list string) ([]int64, error) {
	parts := strings.Split(list, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func fatal(stage string, err error) {
	slog.Default().Error(stage, slog.Any("error", err))
	os.Exit(1)
}
