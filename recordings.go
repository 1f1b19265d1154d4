package camrecord

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RecordingInfo describes one recording file on disk.
type RecordingInfo struct {
	Path    string
	Name    string
	Side    string
	Size    int64
	ModTime time.Time
}

// ListRecordings returns the video files of dir, newest first. A missing
// directory yields an empty list.
func ListRecordings(dir string) ([]RecordingInfo, error) {
	files, err := FindVideoFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	infos := make([]RecordingInfo, 0, len(files))
	for _, path := range files {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		name := filepath.Base(path)
		infos = append(infos, RecordingInfo{
			Path:    path,
			Name:    name,
			Side:    sideFromName(name),
			Size:    st.Size(),
			ModTime: st.ModTime(),
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].ModTime.Equal(infos[j].ModTime) {
			return infos[i].ModTime.After(infos[j].ModTime)
		}
		return infos[i].Name > infos[j].Name
	})

	return infos, nil
}

// sideFromName extracts "left" or "right" from recording_<stamp>_<side>.mp4.
func sideFromName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	switch {
	case strings.HasSuffix(stem, "_"+SideLeft.String()):
		return SideLeft.String()
	case strings.HasSuffix(stem, "_"+SideRight.String()):
		return SideRight.String()
	default:
		return ""
	}
}
