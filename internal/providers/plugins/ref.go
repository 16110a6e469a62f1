package plugins

import "github.com/go-git/go-git/v5/plumbing"

func branchRef(branch string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(branch)
}
