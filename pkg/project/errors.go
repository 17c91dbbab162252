package project

import "errors"

var (
	errKindModeMismatch     = errors.New("workspace ref kind does not match execution mode")
	errLocalPathRequired    = errors.New("local_path_hash is required for a local workspace ref")
	errRunnerRepoRequired   = errors.New("git_remote is required for a git workspace ref")
	errUnknownWorkspaceKind = errors.New("unknown workspace ref kind")
)
