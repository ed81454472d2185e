package markers

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
)

// classDirs lists the on-disk subdirectory for each class, in load order.
// Load order matters: a SEM's composed_of can only resolve once every ATO
// has been loaded, and so on up the layering, so atomic/ always loads
// before semantic/, before cluster/, before meta/.
var classDirs = []struct {
	Dir   string
	Class markerdef.Class
}{
	{"atomic", markerdef.ClassATO},
	{"semantic", markerdef.ClassSEM},
	{"cluster", markerdef.ClassCLU},
	{"meta", markerdef.ClassMEMA},
}

// Registrar is the subset of internal/store.Store the loader needs to
// persist marker metadata. Keeping the loader decoupled from the concrete
// store lets tests register into a plain in-memory fake.
type Registrar interface {
	RegisterMarker(meta markerdef.Meta) error
}

// Summary reports how many markers loaded successfully.
type Summary struct {
	Loaded int
	Errors []error
}

// LoadDir walks root's atomic/semantic/cluster/meta subdirectories,
// parses, checksums, and validates every *.yml/*.yaml file it finds, and
// registers each valid, enabled definition with reg. It returns the
// in-memory catalog of successfully loaded definitions (keyed by id) and a
// Summary of the run. A parse failure or validation failure is per-file:
// the file is skipped, its error recorded, and the load continues.
//
// Per-class activation-rule defaults (schemas/defaults.yaml,
// internal/config.Load) are not applied here: spec §4.10's window.sem
// run-time override must still be able to win over them for any SEM a
// file leaves without a rule, which only works if the definition reaches
// the engine with activation.rule still unset. internal/orchestrator.New
// stores them, and each run applies them when it builds the level engines.
func LoadDir(root string, reg Registrar, logger *slog.Logger) (map[string]markerdef.Definition, Summary) {
	if logger == nil {
		logger = slog.Default()
	}
	catalog := make(map[string]markerdef.Definition)
	var summary Summary

	knownDirs := map[string]bool{}
	for _, cd := range classDirs {
		knownDirs[cd.Dir] = true
	}
	if entries, err := os.ReadDir(root); err == nil {
		for _, e := range entries {
			if e.IsDir() && !knownDirs[e.Name()] {
				files, _ := filepath.Glob(filepath.Join(root, e.Name(), "*"))
				for _, f := range files {
					summary.Errors = append(summary.Errors, &engineerr.LoaderError{
						Kind: engineerr.LoaderUnknownClass, Path: f,
						Detail: fmt.Sprintf("%q is not a recognized marker class directory", e.Name()),
					})
				}
			}
		}
	}

	for _, cd := range classDirs {
		dir := filepath.Join(root, cd.Dir)
		files := listMarkerFiles(dir)
		for _, path := range files {
			def, loadErr := loadOne(path, cd.Class)
			if loadErr != nil {
				logger.Warn("marker load failed", "path", path, "error", loadErr)
				summary.Errors = append(summary.Errors, loadErr)
				continue
			}

			if _, dup := catalog[def.ID]; dup {
				summary.Errors = append(summary.Errors, &engineerr.LoaderError{
					Kind: engineerr.LoaderDuplicateID, Path: path,
					Detail: fmt.Sprintf("marker id %q already loaded", def.ID),
				})
				continue
			}

			violations := Validate(def, catalog)
			if len(violations) > 0 {
				for _, v := range violations {
					summary.Errors = append(summary.Errors, v)
				}
				continue
			}

			catalog[def.ID] = def
			if err := reg.RegisterMarker(markerdef.Meta{
				ID:            def.ID,
				Class:         def.Class,
				SourcePath:    def.SourcePath,
				Checksum:      def.Checksum,
				SchemaVersion: 1,
				Enabled:       true,
				UpdatedAt:     time.Now().UTC(),
			}); err != nil {
				summary.Errors = append(summary.Errors, err)
				delete(catalog, def.ID)
				continue
			}
			summary.Loaded++
		}
	}

	return catalog, summary
}

func listMarkerFiles(dir string) []string {
	var out []string
	matches, _ := filepath.Glob(filepath.Join(dir, "*.yml"))
	out = append(out, matches...)
	matches, _ = filepath.Glob(filepath.Join(dir, "*.yaml"))
	out = append(out, matches...)
	sort.Strings(out)
	return out
}

func loadOne(path string, class markerdef.Class) (markerdef.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return markerdef.Definition{}, &engineerr.LoaderError{
			Kind: engineerr.LoaderParseFailed, Path: path, Detail: err.Error(),
		}
	}

	var def markerdef.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return markerdef.Definition{}, &engineerr.LoaderError{
			Kind: engineerr.LoaderParseFailed, Path: path, Detail: err.Error(),
		}
	}

	base := filepath.Base(path)
	fileID := strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	if def.ID == "" {
		def.ID = fileID
	} else if def.ID != fileID {
		return markerdef.Definition{}, &engineerr.LoaderError{
			Kind: engineerr.LoaderParseFailed, Path: path,
			Detail: fmt.Sprintf("id %q does not match filename %q", def.ID, fileID),
		}
	}

	def.Class = class
	def.SourcePath = path
	def.LoadedAt = time.Now().UTC()

	checksum, err := Checksum(raw)
	if err != nil {
		return markerdef.Definition{}, &engineerr.LoaderError{
			Kind: engineerr.LoaderParseFailed, Path: path, Detail: "checksum: " + err.Error(),
		}
	}
	def.Checksum = checksum

	return def, nil
}
