package device

import (
	"fmt"
	"strconv"
)

// MaxNameLen bounds the derived device name, matching the fixed-size
// name buffer of the original driver.
const MaxNameLen = 32

// DeviceName derives the device's textual name from its base name and
// numeric instance id as "<base><id>". Ids are not validated beyond
// representability; a negative id is stringified as given. The only
// guard is the length bound, which the original left unchecked.
func DeviceName(base string, id int) (string, error) {
	name := base + strconv.Itoa(id)
	if len(name) > MaxNameLen {
		return "", fmt.Errorf("%w: %q (%d > %d)", ErrNameTooLong, name, len(name), MaxNameLen)
	}
	return name, nil
}
