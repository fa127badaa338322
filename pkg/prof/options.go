package prof

// Options names the files each profile is written to. Empty paths skip
// that profile.
type Options struct {
	CPU   string `yaml:"cpu"`
	Mutex string `yaml:"mutex"`
	Block string `yaml:"block"`
	Heap  string `yaml:"heap"`

	// MutexFraction samples 1/n contention events; zero samples all.
	MutexFraction int `yaml:"mutex_fraction"`
	// BlockRate samples one blocking event per n nanoseconds; zero samples
	// all.
	BlockRate int `yaml:"block_rate"`
}

// Any reports whether at least one profile is requested.
func (o Options) Any() bool {
	return o.CPU != "" || o.Mutex != "" || o.Block != "" || o.Heap != ""
}
