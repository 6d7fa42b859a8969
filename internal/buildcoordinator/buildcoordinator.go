// Package buildcoordinator implements the Software Build Coordinator (spec
// §4.3): resolving image_build: references found in a run's inputs into
// concrete docker image URLs, deduplicating concurrent build requests for
// the same software version, and submitting builds to Cromwell as a
// regular WDL workflow. Grounded on
// original_source/src/manager/software_builder.rs's
// get_or_create_software_version / get_or_create_software_build /
// start_software_build sequence, reexpressed with store.Provider's CAS/
// dedup-index primitives instead of Diesel transactions, and on the
// teacher's internal/trigger submit-then-persist shape for the Cromwell
// call itself.
package buildcoordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/gitmirror"
	"github.com/carrotsystems/carrot/internal/metrics"
	"github.com/carrotsystems/carrot/internal/refparse"
	"github.com/carrotsystems/carrot/internal/schedule"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// Coordinator resolves and dedups software builds.
type Coordinator struct {
	store   store.Provider
	engine  *cromwell.Client
	mirror  *gitmirror.Mirror
	buildWDL string // content of the generic docker-build WDL submitted to Cromwell
	logger  *slog.Logger
	lockTTL time.Duration
}

// New constructs a Coordinator. buildWDL is the generic build workflow
// source (spec §4.3) that takes a repository URL and commit as input and
// produces an image_url output.
func New(st store.Provider, engine *cromwell.Client, mirror *gitmirror.Mirror, buildWDL string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: st, engine: engine, mirror: mirror, buildWDL: buildWDL, logger: logger, lockTTL: 30 * time.Second}
}

// Resolution is the outcome of resolving a single image_build: reference.
type Resolution struct {
	Path              string
	ImageURL          string
	SoftwareVersionID string
	Pending           bool // true if a build was started/joined and is not yet complete
}

// ResolveAll walks a run's input JSON for refparse.ImageBuild references and
// resolves each to either an already-built image URL, or a newly-started
// (or joined in-flight) build. Callers should re-invoke this once pending
// builds complete — the Status Manager sweep reconciles build status the
// same way it reconciles run status.
func (c *Coordinator) ResolveAll(ctx context.Context, rawInput []byte) ([]Resolution, error) {
	refs, err := refparse.ScanJSON(rawInput)
	if err != nil {
		return nil, fmt.Errorf("scan input for image_build refs: %w", err)
	}

	var out []Resolution
	for _, pr := range refs {
		if pr.Ref.Kind != refparse.ImageBuild {
			continue
		}
		res, err := c.resolveOne(ctx, pr)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", pr.Path, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func (c *Coordinator) resolveOne(ctx context.Context, pr refparse.PathRef) (Resolution, error) {
	sw, err := c.store.GetSoftwareByName(ctx, pr.Ref.SoftwareName)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup software %q: %w", pr.Ref.SoftwareName, err)
	}
	if sw == nil {
		return Resolution{}, carrottypes.NewError(carrottypes.ErrValidation,
			fmt.Sprintf("unknown software %q", pr.Ref.SoftwareName), nil)
	}

	commit := pr.Ref.CommitOrTag
	if !refparse.IsCommitHash(commit) {
		commit, err = c.resolveTagToCommit(ctx, sw, pr.Ref.CommitOrTag)
		if err != nil {
			return Resolution{}, err
		}
	}

	version, err := c.store.GetOrCreateSoftwareVersion(ctx, sw.SoftwareID, commit)
	if err != nil {
		return Resolution{}, fmt.Errorf("get or create software version: %w", err)
	}

	build, created, err := c.store.FindOrCreateActiveBuild(ctx, version.SoftwareVersionID)
	if err != nil {
		return Resolution{}, fmt.Errorf("find or create active build: %w", err)
	}
	if created {
		if err := c.submitBuild(ctx, sw, version, build); err != nil {
			return Resolution{}, err
		}
	}

	if build.Status == carrottypes.BuildSucceeded && build.ImageURL != nil {
		return Resolution{Path: pr.Path, ImageURL: *build.ImageURL, SoftwareVersionID: version.SoftwareVersionID}, nil
	}
	return Resolution{Path: pr.Path, SoftwareVersionID: version.SoftwareVersionID, Pending: true}, nil
}

// resolveTagToCommit implements spec §4.3 step 2: a previously-resolved
// tag is read back from the store; an unseen tag is resolved through the
// git mirror (serialized by an advisory lock so concurrent resolvers of
// the same tag don't both hit the remote) and cached.
func (c *Coordinator) resolveTagToCommit(ctx context.Context, sw *carrottypes.Software, tag string) (string, error) {
	if v, err := c.store.ResolveTag(ctx, sw.SoftwareID, tag); err != nil {
		return "", fmt.Errorf("resolve cached tag: %w", err)
	} else if v != nil {
		return v.Commit, nil
	}

	lockKey := "git-mirror-tag:" + sw.SoftwareID + ":" + tag
	acquired, err := c.store.AcquireLock(ctx, lockKey, c.lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquire tag resolution lock: %w", err)
	}
	if !acquired {
		// Another resolver is already working on this tag; poll the cache a
		// few times with backoff rather than hitting the mirror twice or
		// bailing out on the first miss.
		policy := schedule.DefaultRetryPolicy()
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(schedule.CalculateBackoff(policy, attempt)):
			}
			if v, err := c.store.ResolveTag(ctx, sw.SoftwareID, tag); err == nil && v != nil {
				return v.Commit, nil
			}
		}
		return "", carrottypes.NewError(carrottypes.ErrExternalTransient, "tag resolution in progress, retry later", nil)
	}
	defer func() { _ = c.store.ReleaseLock(ctx, lockKey) }()

	commit, err := c.mirror.ResolveTag(ctx, sw.RepoURL, tag)
	if err != nil {
		return "", fmt.Errorf("resolve tag via git mirror: %w", err)
	}

	version, err := c.store.GetOrCreateSoftwareVersion(ctx, sw.SoftwareID, commit)
	if err != nil {
		return "", fmt.Errorf("persist resolved version: %w", err)
	}
	if err := c.store.UpsertSoftwareVersionTag(ctx, version.SoftwareVersionID, tag); err != nil {
		return "", fmt.Errorf("cache tag resolution: %w", err)
	}
	return commit, nil
}

func (c *Coordinator) submitBuild(ctx context.Context, sw *carrottypes.Software, version *carrottypes.SoftwareVersion, build *carrottypes.SoftwareBuild) error {
	inputs := fmt.Sprintf(`{"build.repo_url":%q,"build.commit":%q,"build.machine_type":%q}`,
		sw.RepoURL, version.Commit, string(sw.MachineType))

	result, err := c.engine.Submit(ctx, cromwell.SubmitRequest{
		WorkflowSource: c.buildWDL,
		WorkflowInputs: []byte(inputs),
	})
	if err != nil {
		metrics.BuildsFailed.Add(1)
		_ = c.store.UpdateBuildStatus(ctx, build.SoftwareBuildID, carrottypes.BuildFailed, nil, nil)
		return fmt.Errorf("submit build workflow: %w", err)
	}
	metrics.BuildsTriggered.Add(1)

	jobID := result.ID
	if err := c.store.UpdateBuildStatus(ctx, build.SoftwareBuildID, carrottypes.BuildSubmitted, nil, &jobID); err != nil {
		return fmt.Errorf("persist build job id: %w", err)
	}
	c.logger.Info("software build submitted", "software", sw.Name, "commit", version.Commit, "job_id", jobID)
	return nil
}
