// Command redoreader drives one source database's redo-log replication:
// it discovers archived logs, tracks the checkpoint in Metadata, and hands
// validated bytes to a Consumer. It passes no online log groups to the
// replicator, so online logs are not followed. (The
// redo-record parser is an external collaborator; this binary runs with
// the passthrough consumer when none is wired in).
//
// Grounded on services/actionindex/cmd/actionindex/main.go's shape: load
// config, register log categories, print a startup banner, run until a
// signal arrives, shut down in order.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redocdc/core/libraries/blockio"
	"github.com/redocdc/core/libraries/checkpoint"
	"github.com/redocdc/core/libraries/config"
	"github.com/redocdc/core/libraries/logger"
	"github.com/redocdc/core/libraries/reader"
	"github.com/redocdc/core/libraries/redotypes"
	"github.com/redocdc/core/libraries/replicator"
)

var Version = "dev"

// ReaderConfig mirrors spec.md's [source.reader] section.
type ReaderConfig struct {
	RedoCopyPath      string `name:"redo-copy-path" help:"optional file to append a compressed copy of read blocks to"`
	DisableChecks     int    `name:"disable-checks" help:"bitmask; bit 0 disables block checksum"`
	RedoReadSleepUs   int64  `name:"redo-read-sleep-us" default:"200000"`
	RedoVerifyDelayUs int64  `name:"redo-verify-delay-us" default:"0"`
	ArchReadTries     int    `name:"arch-read-tries" default:"5"`
	ArchReadSleepUs   int64  `name:"arch-read-sleep-us" default:"1000000"`
	RefreshIntervalUs int64  `name:"refresh-interval-us" default:"1000000"`
	ChunkSizeKB       int    `name:"chunk-size-kb" default:"1024"`
	MaxChunks         int    `name:"max-chunks" default:"16"`
}

// MemoryConfig mirrors spec.md's [source.memory] section.
type MemoryConfig struct {
	MinMB int `name:"min-mb" default:"1"`
	MaxMB int `name:"max-mb" default:"16"`
}

// SSHConfig mirrors spec.md's [source.ssh] section, used only when
// backend=ssh.
type SSHConfig struct {
	Addr     string `name:"addr" required:"true"`
	User     string `name:"user" required:"true"`
	Password string `name:"password"`
}

type Config struct {
	MetadataDir string `name:"metadata-dir" default:"./data/checkpoint" help:"pebble directory for the durable checkpoint; 'memory' runs with an in-memory fake"`

	ArchiveOnly     bool     `name:"archive-only"`
	ArchiveFormat   string   `name:"log-archive-format" default:"arch_%s_%r.dbf"`
	RecoveryDest    string   `name:"recovery-dest"`
	DBContext       string   `name:"db-context"`
	ArchiveRoots    []string `name:"archive-roots" help:"explicit batch-mode scan roots"`
	StopLogSwitches int      `name:"stop-log-switches" help:"0 = unlimited"`
	StartSequence   uint32   `name:"start-sequence" help:"sequence a never-advanced checkpoint should start at"`

	Backend string `name:"backend" default:"local" help:"local|asm|ssh"`

	LogFile  string `name:"log-file"`
	LogLevel string `name:"log-level" default:"info"`

	Reader ReaderConfig `section:"source.reader"`
	Memory MemoryConfig `section:"source.memory"`
	SSH    SSHConfig    `section:"source.ssh" activeWhen:"backend=ssh"`
}

func main() {
	config.CheckVersion(Version)

	cfg := &Config{}
	if err := config.Load(cfg, os.Args[1:]); err != nil {
		logger.Fatal("config error: %v", err)
	}

	logger.RegisterCategories(logger.DefaultCategories...)
	logger.SetMinLevel(logger.ParseLevel(cfg.LogLevel))
	if cfg.LogFile != "" {
		if err := logger.SetLogFile(cfg.LogFile); err != nil {
			logger.Fatal("failed to open log file %s: %v", cfg.LogFile, err)
		}
		defer logger.Close()
	}

	logger.Printf("startup", "redoreader %s starting...", Version)
	logger.Printf("startup", "metadata-dir: %s", cfg.MetadataDir)
	logger.Printf("startup", "archive-only: %v, log-archive-format: %s", cfg.ArchiveOnly, cfg.ArchiveFormat)
	logger.Printf("startup", "backend: %s", cfg.Backend)
	logger.Printf("startup", "ring buffer: %s (%d chunks of %s)",
		logger.FormatBytes(int64(cfg.Memory.MaxMB)*1<<20),
		cfg.Reader.MaxChunks, logger.FormatBytes(int64(cfg.Reader.ChunkSizeKB)*1024))

	meta, err := openMetadata(cfg.MetadataDir)
	if err != nil {
		logger.Fatal("failed to open metadata store: %v", err)
	}
	defer meta.Close()

	// Online group membership comes from the SQL-level metadata bootstrap
	// (out of scope here, same as ReplaceIncarnations); archive-only mode
	// never needs it. A deployment that wants online-log following wires
	// its own []OnlineGroup in place of nil.
	rp := replicator.New(replicatorConfig(cfg), meta, nil, nil)

	if ps, ok := meta.(interface{ MarkReady() }); ok {
		ps.MarkReady()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- rp.Run() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Fatal("replicator exited: %v", err)
		}
	case sig := <-sigChan:
		logger.Printf("startup", "received %v, shutting down...", sig)
		rp.Shutdown(false)
		select {
		case <-done:
		case <-sigChan:
			logger.Printf("startup", "second signal received, forcing shutdown")
			rp.Shutdown(true)
			<-done
		}
	}

	logger.Printf("startup", "shutdown complete")
}

func openMetadata(dir string) (checkpoint.Metadata, error) {
	if dir == "" || dir == "memory" {
		return checkpoint.NewFakeMetadata(checkpoint.State{}), nil
	}
	return checkpoint.OpenPebbleStore(dir)
}

func replicatorConfig(cfg *Config) replicator.Config {
	rc := reader.DefaultConfig()
	rc.RedoCopyPath = cfg.Reader.RedoCopyPath
	rc.DisableChecksum = cfg.Reader.DisableChecks&1 != 0
	rc.RedoReadSleep = time.Duration(cfg.Reader.RedoReadSleepUs) * time.Microsecond
	rc.RedoVerifyDelay = time.Duration(cfg.Reader.RedoVerifyDelayUs) * time.Microsecond
	rc.ArchReadTries = cfg.Reader.ArchReadTries
	rc.ArchReadSleep = time.Duration(cfg.Reader.ArchReadSleepUs) * time.Microsecond
	rc.ChunkSize = cfg.Reader.ChunkSizeKB * 1024
	rc.MaxChunks = cfg.Reader.MaxChunks
	rc.BufferSizeMax = int64(cfg.Memory.MaxMB) * 1 << 20

	return replicator.Config{
		ArchiveOnly:     cfg.ArchiveOnly,
		ArchiveFormat:   cfg.ArchiveFormat,
		RecoveryDest:    cfg.RecoveryDest,
		DBContext:       cfg.DBContext,
		ArchiveRoots:    cfg.ArchiveRoots,
		RefreshInterval: time.Duration(cfg.Reader.RefreshIntervalUs) * time.Microsecond,
		ArchReadTries:   cfg.Reader.ArchReadTries,
		ArchReadSleep:   time.Duration(cfg.Reader.ArchReadSleepUs) * time.Microsecond,
		StopLogSwitches: cfg.StopLogSwitches,
		StartSequence:   redotypes.Seq(cfg.StartSequence),
		ReaderConfig:    rc,
		NewBackend:      backendFactory(cfg),
	}
}

func backendFactory(cfg *Config) func() blockio.Backend {
	switch cfg.Backend {
	case "ssh":
		return func() blockio.Backend {
			return blockio.NewSSHBackend(blockio.SSHConfig{
				Addr:     cfg.SSH.Addr,
				User:     cfg.SSH.User,
				Password: cfg.SSH.Password,
			})
		}
	case "asm":
		return func() blockio.Backend {
			return blockio.NewASMBackend(func(asmPath string) (string, []string) {
				return "asmcmd", []string{"cp", asmPath, "/dev/stdout"}
			})
		}
	default:
		return func() blockio.Backend { return blockio.NewLocalBackend() }
	}
}
