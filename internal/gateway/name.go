package gateway

import (
	"fmt"
	"strings"
)

const spaceSeparator = "-space-"

// SplitName splits "<pageId>-space-<spaceId>" on the last separator.
func SplitName(name string) (pageID, spaceID string, err error) {
	idx := strings.LastIndex(name, spaceSeparator)
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %q has no %q", ErrMalformedName, name, spaceSeparator)
	}
	pageID = name[:idx]
	spaceID = name[idx+len(spaceSeparator):]
	if pageID == "" || spaceID == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	return pageID, spaceID, nil
}
