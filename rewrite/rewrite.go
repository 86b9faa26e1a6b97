// Package rewrite replaces commit identities across the whole history of a
// repository while keeping the commit graph and tree contents intact.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/philopon/go-toposort"
)

var ErrRewrite = errors.New("unable to rewrite history")

// Identity is the author and committer set on rewritten commits
type Identity struct {
	Name  string
	Email string
}

func (id Identity) signature(c *object.Commit) object.Signature {
	return object.Signature{
		Name:  id.Name,
		Email: id.Email,
		When:  c.Committer.When,
	}
}

// Map links original commit hashes to their rewritten counterparts
type Map map[plumbing.Hash]plumbing.Hash

// Rewrite creates a copy of every commit reachable from local branches with
// author and committer replaced by id and moves branches to the copies.
// Commit time, tree, message and parent order are kept, signatures are
// dropped. Same history and identity always produce the same hashes.
func Rewrite(ctx context.Context, repo *git.Repository, id Identity) (Map, error) {
	branches, err := branchRefs(repo)
	if err != nil {
		return nil, err
	}

	tips := make([]plumbing.Hash, 0, len(branches))
	for _, ref := range branches {
		tips = append(tips, ref.Hash())
	}

	commits, order, err := collect(repo, tips)
	if err != nil {
		return nil, err
	}

	sorted, err := topoSort(commits, order)
	if err != nil {
		return nil, err
	}

	m := make(Map, len(sorted))
	for _, h := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRewrite, err)
		}

		c := commits[h]
		parents := make([]plumbing.Hash, len(c.ParentHashes))
		for i, p := range c.ParentHashes {
			np, ok := m[p]
			if !ok {
				return nil, fmt.Errorf("%w: parent %s of %s not rewritten yet", ErrRewrite, p, h)
			}
			parents[i] = np
		}

		sig := id.signature(c)
		// PGPSignature and MergeTag are not carried over, they would not verify
		newHash, err := store(repo, &object.Commit{
			Author:       sig,
			Committer:    sig,
			Message:      c.Message,
			TreeHash:     c.TreeHash,
			ParentHashes: parents,
			Encoding:     c.Encoding,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRewrite, h, err)
		}
		m[h] = newHash
	}

	for _, ref := range branches {
		newRef := plumbing.NewHashReference(ref.Name(), m[ref.Hash()])
		if err := repo.Storer.SetReference(newRef); err != nil {
			return nil, fmt.Errorf("%w: unable to update %s: %w", ErrRewrite, ref.Name(), err)
		}
	}

	// symbolic HEAD follows its branch, detached one is moved explicitly
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err == nil && head.Type() == plumbing.HashReference {
		if nh, ok := m[head.Hash()]; ok {
			if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, nh)); err != nil {
				return nil, fmt.Errorf("%w: unable to update HEAD: %w", ErrRewrite, err)
			}
		}
	}

	return m, nil
}

// branchRefs returns local branches sorted by name
func branchRefs(repo *git.Repository) ([]*plumbing.Reference, error) {
	iter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("%w: unable to list branches: %w", ErrRewrite, err)
	}
	var refs []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: unable to list branches: %w", ErrRewrite, err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name() < refs[j].Name() })
	return refs, nil
}

// collect loads every commit reachable from tips. order lists hashes in the
// order they were first seen which only depends on the graph and tips order.
func collect(repo *git.Repository, tips []plumbing.Hash) (map[plumbing.Hash]*object.Commit, []plumbing.Hash, error) {
	commits := map[plumbing.Hash]*object.Commit{}
	var order []plumbing.Hash

	stack := make([]plumbing.Hash, 0, len(tips))
	for i := len(tips) - 1; i >= 0; i-- {
		stack = append(stack, tips[i])
	}

	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := commits[h]; ok {
			continue
		}

		c, err := object.GetCommit(repo.Storer, h)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: unable to read commit %s: %w", ErrRewrite, h, err)
		}
		commits[h] = c
		order = append(order, h)

		for i := len(c.ParentHashes) - 1; i >= 0; i-- {
			if _, ok := commits[c.ParentHashes[i]]; !ok {
				stack = append(stack, c.ParentHashes[i])
			}
		}
	}

	return commits, order, nil
}

// topoSort orders commits so that parents always come before children
func topoSort(commits map[plumbing.Hash]*object.Commit, order []plumbing.Hash) ([]plumbing.Hash, error) {
	graph := toposort.NewGraph(len(order))
	for _, h := range order {
		graph.AddNode(h.String())
	}

	for _, h := range order {
		seen := map[plumbing.Hash]bool{}
		for _, p := range commits[h].ParentHashes {
			// graph keeps edges in a map, duplicate would corrupt its order
			if seen[p] {
				continue
			}
			seen[p] = true
			graph.AddEdge(p.String(), h.String())
		}
	}

	sorted, ok := graph.Toposort()
	if !ok {
		return nil, fmt.Errorf("%w: commit graph contains a cycle", ErrRewrite)
	}

	result := make([]plumbing.Hash, 0, len(sorted))
	for _, s := range sorted {
		result = append(result, plumbing.NewHash(s))
	}
	return result, nil
}

func store(repo *git.Repository, c *object.Commit) (plumbing.Hash, error) {
	obj := repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}
