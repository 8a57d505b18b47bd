package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flulink/engine/internal/engine"
	"github.com/flulink/engine/internal/router"
)

var propagateCmd = &cobra.Command{
	Use:   "propagate <request.json|->",
	Short: "Enrich a seed and plan its propagation end to end",
	Long: `Reads {"seed", "context", "users"} and runs enrich, path, optimize and
timing in order. Without inline users, candidates come from the index.`,
	Args: cobra.ExactArgs(1),
	RunE: runPropagate,
}

// propagateResult is everything the propagate pipeline produced.
type propagateResult struct {
	Seed      engine.Seed                 `json:"seed"`
	Path      engine.PropagationPath      `json:"path"`
	Optimized engine.OptimizedPath        `json:"optimized"`
	Timing    engine.TimingRecommendation `json:"timing"`
}

func runPropagate(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0], cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	var req router.PropagationPathRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return engine.Wrap(engine.KindInvalidRequest, err, "invalid request json")
	}
	if err := engine.Validate(req); err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	eng := rt.engine

	seed, err := eng.Content.EnrichSeed(ctx, req.Seed)
	if err != nil {
		return err
	}
	path, err := eng.Propagation.CalculatePropagationPath(ctx, seed, req.Context, req.Users)
	if err != nil {
		return err
	}
	optimized := eng.Optimization.OptimizePropagationPath(path)

	users, err := timingUsers(cmd, rt, req.Users, optimized)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), propagateResult{
		Seed:      seed,
		Path:      path,
		Optimized: optimized,
		Timing:    eng.Optimization.CalculateOptimalTiming(seed, users),
	})
}

// timingUsers is the optimized path's audience, resolved from the inline pool
// or the directory.
func timingUsers(cmd *cobra.Command, rt *runtime, pool []engine.User, p engine.OptimizedPath) ([]engine.User, error) {
	ids := make([]string, 0, len(p.Hops))
	for _, h := range p.Hops {
		ids = append(ids, h.TargetRef)
	}
	if len(pool) > 0 {
		byID := make(map[string]engine.User, len(pool))
		for _, u := range pool {
			byID[u.ID] = u
		}
		users := make([]engine.User, 0, len(ids))
		for _, id := range ids {
			if u, ok := byID[id]; ok {
				users = append(users, u)
			}
		}
		return users, nil
	}
	if rt.store == nil || len(ids) == 0 {
		return nil, nil
	}
	users, err := rt.store.LookupUsers(cmd.Context(), ids)
	if err != nil {
		return nil, engine.Transient(err, "resolve path users")
	}
	return users, nil
}
