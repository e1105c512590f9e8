package domain

// TrackedFile is the last line count observed for a monitored log file
type TrackedFile struct {
	Path      string `yaml:"filepath"`
	LineCount int    `yaml:"lines"`
}

// Snapshot is a durable copy of the file registry for one project
type Snapshot struct {
	ProjectName string        `yaml:"name"`
	Directory   string        `yaml:"directory"`
	Files       []TrackedFile `yaml:"files"`
}

// Lookup returns the tracked entry for path, if present
func (s *Snapshot) Lookup(path string) (TrackedFile, bool) {
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return TrackedFile{}, false
}
