package pipeline

// Kind is the category of content a pipeline consumes or produces.
type Kind string

const (
	KindText      Kind = "text"
	KindImage     Kind = "image"
	KindSound     Kind = "sound"
	KindAudio     Kind = "audio"
	KindMusic     Kind = "music"
	KindFile      Kind = "file"
	KindFileList  Kind = "file list"
	KindSummary   Kind = "summary"
	KindTextImage Kind = "text/image"
	KindTextFile  Kind = "text/file"
)

var allKinds = []Kind{
	KindText, KindImage, KindSound, KindAudio, KindMusic,
	KindSummary, KindFile, KindFileList, KindTextImage, KindTextFile,
}

func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}
