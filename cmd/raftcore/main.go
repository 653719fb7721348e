// Command raftcore opens the state directory of a core member. It can print
// the recovered state or run a single member cluster that acquires the lock
// token and a range of ids.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	raft "github.com/neo4j/neo4j-sub236"
	"github.com/neo4j/neo4j-sub236/config"
	"github.com/neo4j/neo4j-sub236/locks"
	"github.com/neo4j/neo4j-sub236/logging"
	"github.com/neo4j/neo4j-sub236/replication"
)

const usage = `usage: raftcore [-config file] [-dir dir] <command>

commands:
  inspect                         print the log bounds and the recovered state
  compact                         snapshot the state machines and prune the log
  demo [-id-type t] [-range n]    acquire the lock token and a range of ids
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out, logOut io.Writer) error {
	flags := flag.NewFlagSet("raftcore", flag.ContinueOnError)
	flags.SetOutput(logOut)
	flags.Usage = func() { fmt.Fprint(logOut, usage) }
	configFile := flags.String("config", "", "path to the YAML configuration")
	dir := flags.String("dir", "", "data directory, overrides the configuration")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.ReadConfig(*configFile); err != nil {
			return err
		}
	}
	if *dir != "" {
		cfg.Dir = *dir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Logger(logging.WithWriter(logOut))
	if err != nil {
		return err
	}

	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("no command given")
	}
	switch flags.Arg(0) {
	case "inspect":
		return inspect(ctx, cfg, logger, out)
	case "compact":
		return compact(ctx, cfg, logger, out)
	case "demo":
		return demo(ctx, cfg, logger, flags.Args()[1:], out)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", flags.Arg(0))
	}
}

func inspect(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer) error {
	m, err := openMember(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.close()

	fmt.Fprintf(out, "log: prev index %d, prev term %d, append index %d\n",
		m.log.PrevIndex(), m.log.PrevTerm(), m.log.AppendIndex())
	fmt.Fprintf(out, "last applied: %d\n", m.applier.LastApplied())

	snapshot := m.machines.Snapshot()
	fmt.Fprintf(out, "lock token: %s at index %d\n", snapshot.LockToken.Token, snapshot.LockToken.Ordinal)
	fmt.Fprintf(out, "sessions: %d owners at index %d\n", snapshot.Sessions.Owners(), snapshot.Sessions.LogIndex())
	for t := raft.IDType(0); int(t) < raft.NumIDTypes; t++ {
		if first := snapshot.IDAllocation.FirstUnallocated[t]; first > 0 {
			fmt.Fprintf(out, "ids: %s first unallocated %d\n", t, first)
		}
	}
	return nil
}

func compact(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer) error {
	m, err := openMember(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.close()

	file, prevIndex, err := m.compact()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "snapshot: %s at index %d, term %d\n", file.Path, file.PrevIndex, file.PrevTerm)
	fmt.Fprintf(out, "log: pruned up to index %d\n", prevIndex)
	return nil
}

func demo(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("demo", flag.ContinueOnError)
	idTypeName := flags.String("id-type", "node", "type of the ids to allocate")
	rangeLength := flags.Int("range", 1024, "number of ids to allocate")
	if err := flags.Parse(args); err != nil {
		return err
	}
	idType, err := raft.ParseIDType(*idTypeName)
	if err != nil {
		return err
	}

	m, err := openMember(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.close()

	manager, err := locks.NewLeaderOnlyLockManager(
		m.id,
		m.replicator,
		replication.NewStaticLeaderLocator(m.id),
		m.machines.LockToken,
		locks.NewLocalLockManager(),
		locks.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	client := manager.NewClient()
	defer client.Close()
	if err := client.AcquireExclusive(ctx, locks.ResourceType(0), 0); err != nil {
		return err
	}
	fmt.Fprintf(out, "lock token: %s\n", m.machines.LockToken.CurrentToken())

	acquirer := replication.NewIDRangeAcquirer(m.id, m.replicator, m.machines.IDAllocation)
	r, err := acquirer.AcquireRange(ctx, idType, int32(*rangeLength))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ids: %s [%d, %d)\n", idType, r.Start, r.Start+int64(r.Length))
	return nil
}
