// Package repository manages the local working copies used by the proxy.
//
// The source working copy is a full clone of the upstream repository kept up
// to date branch by branch with [Synchronizer]. The destination working copy
// is deleted and initialised again on every cycle by [Store.RecreateDestination],
// history of the configured branches is copied into it with [ImportBranches]
// and the result is pushed to the 'proxy' remote with [Publisher].
//
// All git operations use go-git, remote operations take a context and ask the
// configured [auth.Provider] for credentials on every call.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	store, err := repository.NewStore(root, auth.NewTokenProvider("", token), logger)
//	if err != nil {
//		panic(err)
//	}
//	src, err := store.EnsureSource(ctx, "https://github.com/org/repo.git")
//
// [auth.Provider]: https://pkg.go.dev/github.com/utilitywarehouse/github-proxy/auth#Provider
package repository
