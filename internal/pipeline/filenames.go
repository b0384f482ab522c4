package pipeline

import (
	"regexp"
	"sort"
	"strconv"
)

var risFilenameRE = regexp.MustCompile(`(?:.*/)?(updates|bview)\.([0-9]{8})\.([0-9]{4})`)

// SortRISFilenames orders RIS-style collector dumps ("bview.YYYYMMDD.HHMM"
// and "updates.YYYYMMDD.HHMM") by their embedded timestamp. At an equal
// timestamp a bview sorts before the matching updates file, since 'b' <
// 'u' lexically and the key folds the first letter of the kind in below
// the timestamp digits. Filenames that don't match the RIS naming
// convention are returned separately, in their original relative order.
func SortRISFilenames(files []string) (sorted []string, invalid []string) {
	type keyed struct {
		key      int64
		filename string
	}
	var ordered []keyed
	for _, name := range files {
		m := risFilenameRE.FindStringSubmatch(name)
		if m == nil {
			invalid = append(invalid, name)
			continue
		}
		date, err1 := strconv.ParseInt(m[2], 10, 64)
		tod, err2 := strconv.ParseInt(m[3], 10, 64)
		if err1 != nil || err2 != nil {
			invalid = append(invalid, name)
			continue
		}
		key := date*10000 + tod
		key = 1001*key + int64(m[1][0])
		ordered = append(ordered, keyed{key, name})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].key < ordered[j].key })
	for _, k := range ordered {
		sorted = append(sorted, k.filename)
	}
	return sorted, invalid
}
