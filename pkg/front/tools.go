package front

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/crucible-dev/crucible/pkg/auth"
	"github.com/crucible-dev/crucible/pkg/crucerr"
	"github.com/crucible-dev/crucible/pkg/llm"
	"github.com/crucible-dev/crucible/pkg/models"
	"github.com/crucible-dev/crucible/pkg/orchestrator"
	"github.com/crucible-dev/crucible/pkg/policy"
	"github.com/crucible-dev/crucible/pkg/validate"
)

var (
	sessionIDField = validate.Field{
		Type:      validate.TypeString,
		Required:  true,
		MinLength: 10,
		MaxLength: 100,
		Pattern:   regexp.MustCompile(`^session-[a-z0-9-]+$`),
	}
	artifactIDField = validate.Field{
		Type:      validate.TypeString,
		Required:  true,
		MinLength: 10,
		MaxLength: 100,
		Pattern:   regexp.MustCompile(`^artifact-[a-z0-9-]+$`),
	}
	agentTypeField = validate.Field{
		Type:     validate.TypeString,
		Required: true,
		Enum:     []string{llm.AgentCoder, llm.AgentCritic},
	}
)

func intBounds(min, max float64) (lo, hi *float64) {
	return &min, &max
}

// RegisterAll assembles the twelve-tool dispatch table.
func RegisterAll(d *Dispatcher, orch *orchestrator.Service, policies *policy.Service, policyCacheTTL time.Duration) {
	iterMin, iterMax := intBounds(1, 20)
	thrMin, thrMax := intBounds(1, 100)
	covMin, covMax := intBounds(0, 100)

	d.Register(&Tool{
		Name:        "execute_task_spec",
		Description: "Start a coder/critic refinement loop for a task specification.",
		Schema: validate.Schema{
			"spec":              {Type: validate.TypeObject, Required: true},
			"max_iterations":    {Type: validate.TypeInt, Min: iterMin, Max: iterMax},
			"quality_threshold": {Type: validate.TypeInt, Min: thrMin, Max: thrMax},
		},
		Handler: func(ctx context.Context, args map[string]any, _ *auth.Context) (any, error) {
			var spec models.TaskSpec
			if err := decodeInto(args["spec"], &spec); err != nil {
				return nil, crucerr.Wrap(crucerr.KindValidation, "malformed task spec", err)
			}
			if err := spec.Validate(); err != nil {
				return nil, crucerr.Wrap(crucerr.KindValidation, "invalid task spec", err)
			}
			opts := orchestrator.Options{}
			if v, ok := validate.IntArg(args, "max_iterations"); ok {
				opts.MaxIterations = v
			}
			if v, ok := validate.IntArg(args, "quality_threshold"); ok {
				opts.QualityThreshold = v
			}
			return orch.ExecuteTaskSpec(ctx, &spec, opts)
		},
	})

	d.Register(&Tool{
		Name:        "run_critic_review",
		Description: "Run the review pipeline against one code artifact.",
		Schema: validate.Schema{
			"session_id":  sessionIDField,
			"artifact_id": artifactIDField,
			"review_depth": {
				Type: validate.TypeString,
				Enum: []string{"quick", "standard", "comprehensive"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, _ *auth.Context) (any, error) {
			depth := models.ReviewDepth(validate.StringArg(args, "review_depth"))
			if depth == "" {
				depth = models.DepthStandard
			}
			return orch.RunCriticReview(ctx,
				validate.StringArg(args, "session_id"),
				validate.StringArg(args, "artifact_id"),
				depth)
		},
	})

	d.Register(&Tool{
		Name:        "revise_code",
		Description: "Invoke the Coder with review feedback and append the revision.",
		Schema: validate.Schema{
			"session_id": sessionIDField,
			"feedback":   {Type: validate.TypeObject, Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any, _ *auth.Context) (any, error) {
			var feedback models.ReviewFeedback
			if err := decodeInto(args["feedback"], &feedback); err != nil {
				return nil, crucerr.Wrap(crucerr.KindValidation, "malformed feedback", err)
			}
			return orch.ReviseCode(ctx, validate.StringArg(args, "session_id"), &feedback)
		},
	})

	d.Register(&Tool{
		Name:        "get_repo_map",
		Description: "Return the hierarchical structure of a repository with token estimates.",
		Schema: validate.Schema{
			"repo_path":     {Type: validate.TypeString, Required: true, MaxLength: 4096, Path: true},
			"include_tests": {Type: validate.TypeBool},
		},
		CacheTTL: policyCacheTTL,
		Handler: func(_ context.Context, args map[string]any, _ *auth.Context) (any, error) {
			return orchestrator.GetRepoMap(
				validate.StringArg(args, "repo_path"),
				validate.BoolArg(args, "include_tests"))
		},
	})

	d.Register(&Tool{
		Name:        "get_project_status",
		Description: "Return the current snapshot of one session.",
		Schema:      validate.Schema{"session_id": sessionIDField},
		Handler: func(ctx context.Context, args map[string]any, _ *auth.Context) (any, error) {
			return orch.GetProjectStatus(ctx, validate.StringArg(args, "session_id"))
		},
	})

	d.Register(&Tool{
		Name:        "get_progress_summary",
		Description: "Return iteration progress and the convergence trend.",
		Schema: validate.Schema{
			"session_id": sessionIDField,
			"verbosity": {
				Type: validate.TypeString,
				Enum: []string{"minimal", "standard", "detailed"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, _ *auth.Context) (any, error) {
			return orch.ProgressSummary(ctx,
				validate.StringArg(args, "session_id"),
				validate.StringArg(args, "verbosity"))
		},
	})

	d.Register(&Tool{
		Name:        "final_handoff_archive",
		Description: "Package the session's final code and tests for handoff.",
		Schema: validate.Schema{
			"session_id":    sessionIDField,
			"include_audit": {Type: validate.TypeBool},
		},
		Handler: func(ctx context.Context, args map[string]any, _ *auth.Context) (any, error) {
			return orch.FinalHandoffArchive(ctx,
				validate.StringArg(args, "session_id"),
				validate.BoolArg(args, "include_audit"))
		},
	})

	d.Register(&Tool{
		Name:        "read_org_policies",
		Description: "Return organization policy rules of one type.",
		Schema: validate.Schema{
			"policy_type": {
				Type:     validate.TypeString,
				Required: true,
				Enum:     []string{policy.TypeStyle, policy.TypeSecurity, policy.TypeCustom},
			},
		},
		CacheTTL: policyCacheTTL,
		Handler: func(_ context.Context, args map[string]any, _ *auth.Context) (any, error) {
			return policies.Read(validate.StringArg(args, "policy_type"))
		},
	})

	d.Register(&Tool{
		Name:        "configure_endpoint",
		Description: "Swap the Coder or Critic model provider after a health check.",
		Schema: validate.Schema{
			"agent_type":      agentTypeField,
			"provider_config": {Type: validate.TypeObject, Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any, _ *auth.Context) (any, error) {
			var cfg llm.ProviderConfig
			if err := decodeInto(args["provider_config"], &cfg); err != nil {
				return nil, crucerr.Wrap(crucerr.KindValidation, "malformed provider config", err)
			}
			agentType := validate.StringArg(args, "agent_type")
			if err := orch.Agents().Configure(ctx, agentType, cfg); err != nil {
				return nil, err
			}
			return map[string]any{"agent_type": agentType, "model": cfg.Model, "status": "configured"}, nil
		},
	})

	d.Register(&Tool{
		Name:        "set_system_prompts",
		Description: "Update prompt templates for the Coder or Critic.",
		Schema: validate.Schema{
			"agent_type": agentTypeField,
			"prompts":    {Type: validate.TypeObject, Required: true},
		},
		Handler: func(_ context.Context, args map[string]any, _ *auth.Context) (any, error) {
			var prompts map[string]string
			if err := decodeInto(args["prompts"], &prompts); err != nil {
				return nil, crucerr.Wrap(crucerr.KindValidation, "malformed prompts", err)
			}
			agentType := validate.StringArg(args, "agent_type")
			if err := orch.Agents().SetPrompts(agentType, prompts); err != nil {
				return nil, err
			}
			return map[string]any{"agent_type": agentType, "updated": len(prompts)}, nil
		},
	})

	d.Register(&Tool{
		Name:        "generate_test_suite",
		Description: "Generate a test suite artifact for one code artifact.",
		Schema: validate.Schema{
			"artifact_id":     artifactIDField,
			"framework":       {Type: validate.TypeString, Required: true, MinLength: 2, MaxLength: 100},
			"coverage_target": {Type: validate.TypeInt, Min: covMin, Max: covMax},
		},
		Handler: func(ctx context.Context, args map[string]any, _ *auth.Context) (any, error) {
			target, _ := validate.IntArg(args, "coverage_target")
			return orch.GenerateTestSuite(ctx,
				validate.StringArg(args, "artifact_id"),
				validate.StringArg(args, "framework"),
				target)
		},
	})

	d.Register(&Tool{
		Name:        "inject_alternative_pattern",
		Description: "Append a pattern hint applied to subsequent revisions.",
		Schema: validate.Schema{
			"pattern": {Type: validate.TypeString, Required: true, MinLength: 3, MaxLength: 5000, SkipSniff: true},
			"context": {Type: validate.TypeString, MaxLength: 2000},
		},
		Handler: func(_ context.Context, args map[string]any, _ *auth.Context) (any, error) {
			total := orch.InjectPattern(
				validate.StringArg(args, "pattern"),
				validate.StringArg(args, "context"))
			return map[string]any{"accepted": true, "total_hints": total}, nil
		},
	})
}

// decodeInto converts a sanitized object argument into a typed struct
// through its JSON form.
func decodeInto(value any, target any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
