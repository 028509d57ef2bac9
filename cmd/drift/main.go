package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/merge"
	"github.com/driftvcs/drift/internal/object"
	"github.com/driftvcs/drift/internal/repo"
	"github.com/driftvcs/drift/internal/sync"
	"github.com/driftvcs/drift/internal/worktree"
)

const usage = `usage: drift <command> [args]

commands:
  init                      create a repository in the current directory
  track <path>...           add files to the tracked list
  untrack <path>...         remove files from the tracked list
  commit                    snapshot tracked files as a new commit
  checkout <branch|id>      switch branches or detach at a commit
  branch [name [at]]        list branches, or create one
  branch -d <name>          delete a branch
  log [n]                   show history from HEAD
  merge <ref>               merge a ref into the current branch
  merge --continue          finalize a conflicted merge from the working tree
  merge --abort             abandon a conflicted merge
  remote add <name> <loc>   register a remote
  remote rm <name>          remove a remote
  remote                    list remotes
  fetch <remote>            update remote-tracking mirrors
  push <remote> <branch>    upload and advance a remote branch
  fsck                      verify every stored object
`

func main() {
	log.SetFlags(0)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("drift: %v", err)
	}

	if err := run(cwd, args[0], args[1:]); err != nil {
		log.Fatalf("drift: %v", err)
	}
}

func run(root, cmd string, args []string) error {
	r, err := repo.OpenRepository(root)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := context.Background()

	switch cmd {
	case "init":
		fmt.Printf("initialized repository at %s\n", r.DriftDir())
		return nil

	case "track":
		return r.Tree.(*worktree.Worktree).Track(args...)

	case "untrack":
		return r.Tree.(*worktree.Worktree).Untrack(args...)

	case "commit":
		snapshot, err := r.Tree.Snapshot()
		if err != nil {
			return err
		}
		id, err := r.Commit(snapshot)
		if err != nil {
			return err
		}
		fmt.Println(object.IDToString(id))
		return nil

	case "checkout":
		if len(args) != 1 {
			return fmt.Errorf("checkout takes one target")
		}
		if err := r.Checkout(args[0]); err != nil {
			return err
		}
		head, err := r.Refs.Head()
		if err != nil {
			return err
		}
		if head.Detached() {
			fmt.Printf("note: HEAD is now detached at %s\n", object.IDToString(head.ID))
		}
		return nil

	case "branch":
		return branchCmd(r, args)

	case "log":
		n := 0
		if len(args) == 1 {
			fmt.Sscanf(args[0], "%d", &n)
		}
		entries, err := r.Log(gocid.Undef, n)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  parents=%d\n", object.IDToString(e.ID), len(e.Commit.Parents))
		}
		return nil

	case "merge":
		return mergeCmd(r, args)

	case "remote":
		return remoteCmd(r, args)

	case "fetch":
		if len(args) != 1 {
			return fmt.Errorf("fetch takes a remote name")
		}
		stats, err := sync.NewSyncer(r).Fetch(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("fetched %d objects, %d branches\n", stats.Objects, stats.Branches)
		return nil

	case "push":
		if len(args) != 2 {
			return fmt.Errorf("push takes a remote and a branch")
		}
		stats, err := sync.NewSyncer(r).Push(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("pushed %d objects, %s is at %s\n", stats.Objects, args[1], object.IDToString(stats.Tip))
		return nil

	case "fsck":
		if err := r.VerifyAll(); err != nil {
			return err
		}
		fmt.Println("all objects verified")
		return nil

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func branchCmd(r *repo.Repository, args []string) error {
	switch {
	case len(args) == 0:
		branches, err := r.Refs.Branches()
		if err != nil {
			return err
		}
		head, err := r.Refs.Head()
		if err != nil {
			return err
		}
		for name, id := range branches {
			marker := " "
			if !head.Detached() && head.Branch == name {
				marker = "*"
			}
			fmt.Printf("%s %s %s\n", marker, name, object.IDToString(id))
		}
		return nil

	case args[0] == "-d":
		if len(args) != 2 {
			return fmt.Errorf("branch -d takes a name")
		}
		return r.DeleteBranch(args[1])

	default:
		at := gocid.Undef
		if len(args) == 2 {
			id, err := r.Resolve(args[1])
			if err != nil {
				return err
			}
			at = id
		}
		return r.CreateBranch(args[0], at)
	}
}

func mergeCmd(r *repo.Repository, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("merge takes a ref, --continue, or --abort")
	}
	engine := merge.NewEngine(r)

	head, err := r.Refs.Head()
	if err != nil {
		return err
	}
	if head.Detached() {
		return fmt.Errorf("cannot merge with a detached HEAD")
	}

	switch args[0] {
	case "--continue":
		resolved, err := r.Tree.Snapshot()
		if err != nil {
			return err
		}
		id, err := engine.Finalize(head.Branch, resolved)
		if err != nil {
			return err
		}
		fmt.Printf("merge finalized: %s\n", object.IDToString(id))
		return nil

	case "--abort":
		return engine.Abort()

	default:
		result, id, err := engine.Merge(head.Branch, args[0])
		if err != nil {
			return err
		}
		if result == merge.Conflicted {
			fmt.Println("conflicts: resolve, then run drift merge --continue")
			return nil
		}
		fmt.Printf("%s: %s\n", result, object.IDToString(id))
		return nil
	}
}

func remoteCmd(r *repo.Repository, args []string) error {
	switch {
	case len(args) == 0:
		names, err := r.Remotes.Names()
		if err != nil {
			return err
		}
		for _, name := range names {
			loc, _ := r.Remotes.Location(name)
			fmt.Printf("%s\t%s\n", name, loc)
		}
		return nil

	case args[0] == "add" && len(args) == 3:
		return r.Remotes.Add(args[1], args[2])

	case args[0] == "rm" && len(args) == 2:
		return r.Remotes.Remove(args[1])

	default:
		return fmt.Errorf("usage: remote [add <name> <loc> | rm <name>]")
	}
}
