// Package snapshot keeps an immutable version history of post content in
// per-post git repositories.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"planner/api/internal/store"
	"planner/api/internal/util"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Content is the versioned slice of a post: everything a reviewer signed
// off on, nothing operational.
type Content struct {
	Title         string `json:"title"`
	Copy          string `json:"copy"`
	Hashtags      string `json:"hashtags,omitempty"`
	Notes         string `json:"notes,omitempty"`
	ScheduledDate string `json:"scheduledDate,omitempty"`
}

// ContentFromPost extracts the versioned fields of a post.
func ContentFromPost(post store.Post) Content {
	content := Content{
		Title:    post.Title,
		Copy:     post.Copy,
		Hashtags: post.Hashtags,
		Notes:    post.Notes,
	}
	if post.ScheduledDate != nil {
		content.ScheduledDate = post.ScheduledDate.UTC().Format(time.RFC3339)
	}
	return content
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

type versionStore interface {
	InsertPostVersion(ctx context.Context, v store.PostVersion) error
}

type Service struct {
	baseDir  string
	versions versionStore
	lockMu   sync.Mutex
	locks    map[string]*sync.Mutex
}

func New(baseDir string, versions versionStore) *Service {
	return &Service{
		baseDir:  baseDir,
		versions: versions,
		locks:    make(map[string]*sync.Mutex),
	}
}

// EnsurePostRepo initializes the repository for a post if it does not
// exist yet, committing the given content as the baseline.
func (s *Service) EnsurePostRepo(postID string, initial Content, author string) error {
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(postID)
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
		return fmt.Errorf("marshal initial content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "content.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial content: %w", err)
	}
	if _, err := worktree.Add("content.json"); err != nil {
		return fmt.Errorf("git add initial content: %w", err)
	}
	hash, err := worktree.Commit("Import post baseline", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial content: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitContent records the current content as a new commit. Unchanged
// content still commits when allowEmpty is set, so milestone snapshots
// always leave a mark.
func (s *Service) CommitContent(postID string, content Content, author, message string, allowEmpty bool) (CommitInfo, error) {
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(postID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), "content.json"), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write content.json: %w", err)
	}
	if _, err := worktree.Add("content.json"); err != nil {
		return CommitInfo{}, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author:            signature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit content: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits newest-first, up to limit.
func (s *Service) History(postID string, limit int) ([]CommitInfo, error) {
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(postID))
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

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
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

// GetContentByHash loads the content as it was at a given commit.
func (s *Service) GetContentByHash(postID, hash string) (Content, error) {
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(postID))
	if err != nil {
		return Content{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

// CapturePostVersion commits the post's current content and records the
// milestone in the version ledger. The workflow engine calls this when a
// reduction reaches a terminal state; the app layer calls it on edits.
func (s *Service) CapturePostVersion(ctx context.Context, post store.Post, trigger string, isApproved bool, actor string) error {
	content := ContentFromPost(post)
	if actor == "" {
		actor = "system"
	}
	if err := s.EnsurePostRepo(post.ID, content, actor); err != nil {
		return err
	}

	message := fmt.Sprintf("%s snapshot", trigger)
	commit, err := s.CommitContent(post.ID, content, actor, message, true)
	if err != nil {
		return err
	}

	if s.versions == nil {
		return nil
	}
	return s.versions.InsertPostVersion(ctx, store.PostVersion{
		ID:          util.NewID("ver"),
		PostID:      post.ID,
		VersionName: fmt.Sprintf("%s %s", trigger, commit.CreatedAt.UTC().Format("2006-01-02 15:04")),
		CommitHash:  commit.Hash,
		Trigger:     trigger,
		IsApproved:  isApproved,
		PostStatus:  post.Status,
		CreatedBy:   actor,
	})
}

func (s *Service) repoPath(postID string) string {
	return filepath.Join(s.baseDir, postID)
}

func (s *Service) postLock(postID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[postID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[postID] = lock
	return lock
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.planner.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File("content.json")
	if err != nil {
		return Content{}, fmt.Errorf("load content.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}

	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	chars := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			chars = append(chars, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			chars = append(chars, '.')
		}
	}
	if len(chars) == 0 {
		return "user"
	}
	return string(chars)
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
