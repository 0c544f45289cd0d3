// Package snapshot stores versioned plan state in per-plan git repositories.
// Every scheduling run commits the resulting plan layout so earlier runs can
// be inspected and compared.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"horizon/api/internal/store"
)

// ItemState is the scheduled position of one work item at snapshot time.
type ItemState struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	EffortPoints   float64  `json:"effortPoints"`
	AssignedTeam   *int     `json:"assignedTeam,omitempty"`
	AssignedPeriod *int     `json:"assignedPeriod,omitempty"`
	PeriodSpan     *int     `json:"periodSpan,omitempty"`
	PeriodOffset   *float64 `json:"periodOffset,omitempty"`
	IsExcluded     bool     `json:"isExcluded,omitempty"`
}

// SegmentState is one timeline segment at snapshot time.
type SegmentState struct {
	ID            string  `json:"id"`
	ItemID        string  `json:"itemId"`
	AssignedTeam  *int    `json:"assignedTeam,omitempty"`
	StartPeriod   int     `json:"startPeriod"`
	PeriodCount   int     `json:"periodCount"`
	EffortPoints  float64 `json:"effortPoints"`
	SequenceOrder int     `json:"sequenceOrder"`
}

// Snapshot is the full plan state written to plan.json on each commit.
type Snapshot struct {
	PlanName         string         `json:"planName"`
	TeamCount        int            `json:"teamCount"`
	TeamVelocity     float64        `json:"teamVelocity"`
	BufferRatio      float64        `json:"bufferRatio"`
	PeriodLengthDays int            `json:"periodLengthDays"`
	StartDate        string         `json:"startDate"`
	Items            []ItemState    `json:"items"`
	Segments         []SegmentState `json:"segments"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsurePlanRepo initializes the git repository for a plan if it does not
// exist yet, committing the initial snapshot as the baseline.
func (s *Service) EnsurePlanRepo(planID string, initial Snapshot, author string) error {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(planID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal initial snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "plan.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial snapshot: %w", err)
	}
	if _, err := worktree.Add("plan.json"); err != nil {
		return fmt.Errorf("git add initial snapshot: %w", err)
	}
	hash, err := worktree.Commit("Create plan baseline", &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.horizon.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit initial snapshot: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitSnapshot writes the snapshot to the plan repo and commits it.
// Identical snapshots still produce a commit so every run appears in history.
func (s *Service) CommitSnapshot(planID string, snap Snapshot, author, message string) (store.SnapshotInfo, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(planID))
	if err != nil {
		return store.SnapshotInfo{}, fmt.Errorf("open repo: %w", err)
	}

	hash, err := s.commit(repo, snap, author, message)
	if err != nil {
		return store.SnapshotInfo{}, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.SnapshotInfo{}, fmt.Errorf("read commit object: %w", err)
	}

	return toSnapshotInfo(commitObj), nil
}

// GetHeadSnapshot returns the most recent snapshot for a plan.
func (s *Service) GetHeadSnapshot(planID string) (Snapshot, store.SnapshotInfo, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(planID))
	if err != nil {
		return Snapshot{}, store.SnapshotInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Snapshot{}, store.SnapshotInfo{}, fmt.Errorf("resolve main: %w", err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Snapshot{}, store.SnapshotInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	snap, err := readSnapshotFromCommit(commitObj)
	if err != nil {
		return Snapshot{}, store.SnapshotInfo{}, err
	}

	return snap, toSnapshotInfo(commitObj), nil
}

// GetSnapshotByHash returns a historic snapshot by commit hash (full or short).
func (s *Service) GetSnapshotByHash(planID, hash string) (Snapshot, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(planID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnapshotFromCommit(commitObj)
}

// History lists snapshot commits for a plan, newest first.
func (s *Service) History(planID string, limit int) ([]store.SnapshotInfo, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(planID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.SnapshotInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toSnapshotInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(planID string) string {
	return filepath.Join(s.baseDir, planID)
}

func (s *Service) planLock(planID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[planID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[planID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, snap Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "plan.json"), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write plan.json: %w", err)
	}

	if _, err := worktree.Add("plan.json"); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.horizon.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File("plan.json")
	if err != nil {
		return Snapshot{}, fmt.Errorf("load plan.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode commit snapshot: %w", err)
	}
	return snap, nil
}

func toSnapshotInfo(commitObj *object.Commit) store.SnapshotInfo {
	return store.SnapshotInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
