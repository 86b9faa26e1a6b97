package rewrite

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"
)

var testIdentity = Identity{Name: "Proxy Bot", Email: "proxy@example.com"}

type testRepo struct {
	t    *testing.T
	repo *git.Repository
	wt   *git.Worktree
	fs   billy.Filesystem
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &testRepo{t: t, repo: repo, wt: wt, fs: fs}
}

// commit writes a file named after msg and commits it with given author,
// committer time and explicit parents
func (r *testRepo) commit(msg string, author string, when time.Time, parents ...plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	require.NoError(r.t, util.WriteFile(r.fs, msg+".txt", []byte(msg), 0644))
	_, err := r.wt.Add(msg + ".txt")
	require.NoError(r.t, err)

	opts := &git.CommitOptions{
		Author:    &object.Signature{Name: author, Email: author + "@example.com", When: when.Add(-time.Hour)},
		Committer: &object.Signature{Name: author, Email: author + "@example.com", When: when},
	}
	if len(parents) > 0 {
		opts.Parents = parents
	}
	h, err := r.wt.Commit(msg, opts)
	require.NoError(r.t, err)
	return h
}

func (r *testRepo) setBranch(name string, h plumbing.Hash) {
	r.t.Helper()
	require.NoError(r.t, r.repo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), h)))
}

func (r *testRepo) branch(name string) *object.Commit {
	r.t.Helper()
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	require.NoError(r.t, err)
	c, err := r.repo.CommitObject(ref.Hash())
	require.NoError(r.t, err)
	return c
}

func (r *testRepo) commitObject(h plumbing.Hash) *object.Commit {
	r.t.Helper()
	c, err := r.repo.CommitObject(h)
	require.NoError(r.t, err)
	return c
}

var (
	t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("", 2*3600))
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
	t3 = t0.Add(3 * time.Hour)
)

// buildMainDev creates main: A <- B and dev: A <- C
func buildMainDev(t *testing.T) (*testRepo, plumbing.Hash, plumbing.Hash, plumbing.Hash) {
	r := newTestRepo(t)
	a := r.commit("A", "alice", t0)
	b := r.commit("B", "bob", t1, a)
	c := r.commit("C", "carol", t2, a)
	r.setBranch("main", b)
	r.setBranch("dev", c)
	return r, a, b, c
}

func requireIdentity(t *testing.T, c *object.Commit, when time.Time) {
	t.Helper()
	for _, sig := range []object.Signature{c.Author, c.Committer} {
		require.Equal(t, testIdentity.Name, sig.Name)
		require.Equal(t, testIdentity.Email, sig.Email)
		require.True(t, sig.When.Equal(when), "want %v got %v", when, sig.When)
		_, wantOffset := when.Zone()
		_, gotOffset := sig.When.Zone()
		require.Equal(t, wantOffset, gotOffset)
	}
}

func TestRewrite_mainDev(t *testing.T) {
	r, a, b, c := buildMainDev(t)

	m, err := Rewrite(t.Context(), r.repo, testIdentity)
	require.NoError(t, err)
	require.Len(t, m, 3)

	main := r.branch("main")
	dev := r.branch("dev")
	require.Equal(t, m[b], main.Hash)
	require.Equal(t, m[c], dev.Hash)

	// shared ancestor is rewritten once
	require.Equal(t, []plumbing.Hash{m[a]}, main.ParentHashes)
	require.Equal(t, []plumbing.Hash{m[a]}, dev.ParentHashes)

	root := r.commitObject(m[a])
	require.Empty(t, root.ParentHashes)

	for old, rewritten := range m {
		oc, nc := r.commitObject(old), r.commitObject(rewritten)
		require.NotEqual(t, old, rewritten)
		require.Equal(t, oc.TreeHash, nc.TreeHash)
		require.Equal(t, oc.Message, nc.Message)
		requireIdentity(t, nc, oc.Committer.When)
	}

	// HEAD follows main
	head, err := r.repo.Head()
	require.NoError(t, err)
	require.Equal(t, m[b], head.Hash())
}

func TestRewrite_merge(t *testing.T) {
	r := newTestRepo(t)
	a := r.commit("A", "alice", t0)
	b := r.commit("B", "bob", t1, a)
	c := r.commit("C", "carol", t2, a)
	merge := r.commit("M", "alice", t3, c, b)
	r.setBranch("main", merge)

	m, err := Rewrite(t.Context(), r.repo, testIdentity)
	require.NoError(t, err)

	nm := r.commitObject(m[merge])
	// parent order preserved
	require.Equal(t, []plumbing.Hash{m[c], m[b]}, nm.ParentHashes)
	requireIdentity(t, nm, t3)
}

func TestRewrite_deterministic(t *testing.T) {
	r1, _, _, _ := buildMainDev(t)
	r2, _, _, _ := buildMainDev(t)

	m1, err := Rewrite(t.Context(), r1.repo, testIdentity)
	require.NoError(t, err)
	m2, err := Rewrite(t.Context(), r2.repo, testIdentity)
	require.NoError(t, err)

	require.Equal(t, m1, m2)
	require.Equal(t, r1.branch("main").Hash, r2.branch("main").Hash)

	// rewriting the rewritten history again changes nothing
	before := r1.branch("main").Hash
	_, err = Rewrite(t.Context(), r1.repo, testIdentity)
	require.NoError(t, err)
	require.Equal(t, before, r1.branch("main").Hash)
}

func TestRewrite_dropsSignature(t *testing.T) {
	r := newTestRepo(t)
	a := r.commit("A", "alice", t0)

	signed := r.commitObject(a)
	signed.PGPSignature = "-----BEGIN PGP SIGNATURE-----\n\nfake\n-----END PGP SIGNATURE-----"
	signed.MergeTag = "object 1111111111111111111111111111111111111111\ntype commit\ntag v1.0\ntagger Tagger <tagger@example.com> 1700000000 +0000\n\nrelease\n"
	obj := r.repo.Storer.NewEncodedObject()
	require.NoError(t, signed.Encode(obj))
	sh, err := r.repo.Storer.SetEncodedObject(obj)
	require.NoError(t, err)
	r.setBranch("main", sh)

	m, err := Rewrite(t.Context(), r.repo, testIdentity)
	require.NoError(t, err)
	rewritten := r.commitObject(m[sh])
	require.Empty(t, rewritten.PGPSignature)
	require.Empty(t, rewritten.MergeTag)
	require.Equal(t, signed.TreeHash, rewritten.TreeHash)
}

func TestRewrite_cancelled(t *testing.T) {
	r, _, b, _ := buildMainDev(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Rewrite(ctx, r.repo, testIdentity)
	require.ErrorIs(t, err, ErrRewrite)
	require.ErrorIs(t, err, context.Canceled)
	// branches are untouched
	require.Equal(t, b, r.branch("main").Hash)
}

func TestRewrite_missingObject(t *testing.T) {
	r := newTestRepo(t)
	r.setBranch("main", plumbing.NewHash("1111111111111111111111111111111111111111"))

	_, err := Rewrite(t.Context(), r.repo, testIdentity)
	require.ErrorIs(t, err, ErrRewrite)
}

func TestSnapshot(t *testing.T) {
	r, _, b, c := buildMainDev(t)

	m, err := Snapshot(t.Context(), r.repo, testIdentity)
	require.NoError(t, err)

	main := r.branch("main")
	require.Equal(t, m[b], main.Hash)
	require.Empty(t, main.ParentHashes)
	require.Equal(t, r.commitObject(b).TreeHash, main.TreeHash)
	require.Equal(t, "Snapshot of main\n", main.Message)
	requireIdentity(t, main, t1)

	dev := r.branch("dev")
	require.Equal(t, m[c], dev.Hash)
	require.Empty(t, dev.ParentHashes)
	require.Equal(t, "Snapshot of dev\n", dev.Message)

	// same input same output
	r2, _, _, _ := buildMainDev(t)
	m2, err := Snapshot(t.Context(), r2.repo, testIdentity)
	require.NoError(t, err)
	require.Equal(t, m, m2)
}
