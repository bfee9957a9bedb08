package sources

// Config describes one upstream flight data source, loaded from a YAML file
// in the sources directory. The file name (without extension) is the source
// name and the ledger prefix for its staged batches.
type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	URL      string         `yaml:"url"`         // CKAN datastore_search endpoint
	Resource string         `yaml:"resource_id"` // datastore resource UUID
	Settings ConfigSettings `yaml:"settings"`
}

type ConfigSettings struct {
	Enabled         bool `yaml:"enabled"`
	RefreshInterval int  `yaml:"refresh_interval"` // seconds
	PageSize        int  `yaml:"page_size"`        // records per fetch page
	Timeout         int  `yaml:"timeout"`          // seconds, whole-fetch budget
}
