package writer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
)

// projectNamespace seeds deterministic project ids so every agent
// mirroring the same project name agrees on its id
var projectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cslogwatch/project"))

// ProjectUUID returns the stable id of a project name
func ProjectUUID(name string) uuid.UUID {
	return uuid.NewSHA1(projectNamespace, []byte(name))
}

// eventHash calculates the SHA256 hash of the natural key of an event
// within project. Fields are length-prefixed so that separators inside
// content cannot make two different keys collide.
func eventHash(project string, ev *domain.LogEvent) string {
	h := sha256.New()
	for _, field := range []string{
		project,
		ev.Timestamp.UTC().Format(time.RFC3339),
		ev.EventType,
		ev.Content,
		ev.Computer,
	} {
		fmt.Fprintf(h, "%d:%s|", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}
