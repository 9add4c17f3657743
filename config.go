package filequeue

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/filequeue/filequeue/internal/qlog"
)

// FileConfig configures a FilesQueue. It is passed by value; zero-value
// fields take the documented defaults, in the style of the teacher's own
// BatcherConfig/ChannelConfig: "Defaults to X, if 0."
// (spec.md §6.2).
type FileConfig struct {
	// Name identifies the queue, and is used to derive Directory and the
	// lock file name if those are left blank.
	Name string `toml:"name"`

	// Root is the root directory under which the queue's storage directory
	// is created. Defaults to the current directory, if empty.
	Root string `toml:"root"`

	// Directory overrides the storage directory's name (root/Directory).
	// Defaults to Name, if empty.
	Directory string `toml:"directory"`

	// EntryPrefix is prepended to every entry filename. Defaults to empty.
	EntryPrefix string `toml:"prefix_entry"`

	// DataSuffix, TransSuffix, NextSuffix, BadSuffix, BackupSuffix are the
	// per-kind filename suffixes. Default to ".data", ".trans", ".next",
	// ".bad", ".backup" respectively, if empty.
	DataSuffix   string `toml:"suffix_data"`
	TransSuffix  string `toml:"suffix_trans"`
	NextSuffix   string `toml:"suffix_next"`
	BadSuffix    string `toml:"suffix_bad"`
	BackupSuffix string `toml:"suffix_backup"`

	// Compressed enables gzip on data/trans/bad/backup streams.
	Compressed bool `toml:"compressed"`

	// CompressedSuffix is appended after the kind suffix when Compressed is
	// set. Defaults to ".gz", if empty.
	CompressedSuffix string `toml:"compressed_suffix"`

	// Backup enables post-drop backup retention.
	Backup bool `toml:"backup"`

	// MergeLimit is the maximum messages in an incoming transaction that
	// may merge into the tail entry. 0 disables merging.
	MergeLimit int `toml:"merge_limit"`

	// MergeSplit is the maximum messages already in the tail entry before
	// further merges into it are refused.
	MergeSplit int `toml:"merge_split"`

	// Autocommit enables commit-on-close for senders that didn't otherwise
	// commit or roll back.
	Autocommit bool `toml:"autocommit"`

	// AutocommitThreshold, AutocommitTimeout: see autocommit.Policy.
	AutocommitThreshold int           `toml:"autocommit_threshold"`
	AutocommitTimeout   time.Duration `toml:"autocommit_timeout"`

	// LockDisabled skips acquiring the directory lock; useful for
	// single-writer test harnesses sharing a directory sequentially.
	LockDisabled bool `toml:"lock_disabled"`

	// LockPrefix, LockSuffix name the advisory lock file. Default to ""
	// and ".lock".
	LockPrefix string `toml:"prefix_lock"`
	LockSuffix string `toml:"suffix_lock"`

	// FileRetries, FileRetryDelay configure the filesystem-operation retry
	// loop (rvpf.queue.file.retries / rvpf.queue.file.retry.delay).
	FileRetries    int           `toml:"file_retries"`
	FileRetryDelay time.Duration `toml:"file_retry_delay"`

	// Scheduler is the external TimeoutScheduler used for
	// autocommit.timeout. If nil and AutocommitTimeout > 0, setup fails
	// with KindConfiguration.
	Scheduler Scheduler `toml:"-"`

	// Logger receives structured recovery/lifecycle events. A nil Logger
	// disables logging.
	Logger qlog.Logger `toml:"-"`
}

func (c FileConfig) withDefaults() FileConfig {
	if c.Directory == "" {
		c.Directory = c.Name
	}
	if c.DataSuffix == "" {
		c.DataSuffix = ".data"
	}
	if c.TransSuffix == "" {
		c.TransSuffix = ".trans"
	}
	if c.NextSuffix == "" {
		c.NextSuffix = ".next"
	}
	if c.BadSuffix == "" {
		c.BadSuffix = ".bad"
	}
	if c.BackupSuffix == "" {
		c.BackupSuffix = ".backup"
	}
	if c.CompressedSuffix == "" {
		c.CompressedSuffix = ".gz"
	}
	if c.LockSuffix == "" {
		c.LockSuffix = ".lock"
	}
	return c
}

// MemoryConfig configures a MemoryQueue (spec.md §4.6).
type MemoryConfig struct {
	// KeepLimit: if positive and no receiver is attached, the oldest
	// messages are dropped once the buffer exceeds this size.
	KeepLimit int `toml:"keep_limit"`

	// ReceiverRequired: if true, Send is a no-op while no receiver is
	// attached.
	ReceiverRequired bool `toml:"receiver_required"`

	// AutocommitThreshold, AutocommitTimeout: see autocommit.Policy.
	AutocommitThreshold int           `toml:"autocommit_threshold"`
	AutocommitTimeout   time.Duration `toml:"autocommit_timeout"`

	Autocommit bool `toml:"autocommit"`

	Scheduler Scheduler   `toml:"-"`
	Logger    qlog.Logger `toml:"-"`
}

// LoadFileConfig reads a FileConfig from a TOML file at path. Fields not
// present in the file keep their Go zero values (then withDefaults()
// applies documented defaults at setup time).
func LoadFileConfig(path string) (FileConfig, error) {
	var c FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return c, wrapError(KindConfiguration, err, "reading config %s", path)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, wrapError(KindConfiguration, err, "parsing config %s", path)
	}
	return c, nil
}

// LoadMemoryConfig reads a MemoryConfig from a TOML file at path.
func LoadMemoryConfig(path string) (MemoryConfig, error) {
	var c MemoryConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return c, wrapError(KindConfiguration, err, "reading config %s", path)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, wrapError(KindConfiguration, err, "parsing config %s", path)
	}
	return c, nil
}
