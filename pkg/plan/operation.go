package plan

// Operation constants for workflow job kinds
const (
	OperationGenerate              = "generate"
	OperationGenerateImage         = "generateImage"
	OperationGenerateAudio         = "generateAudio"
	OperationTranscribe            = "transcribe"
	OperationMerge                 = "merge"
	OperationLayer                 = "layer"
	OperationAddSubtitles          = "addSubtitles"
	OperationReframe               = "reframe"
	OperationLipSync               = "lipSync"
	OperationRemoveBackground      = "removeBackground"
	OperationRemoveImageBackground = "removeImageBackground"
)

// AllOperations returns every known operation, in a stable order
func AllOperations() []string {
	return []string{
		OperationGenerate,
		OperationGenerateImage,
		OperationGenerateAudio,
		OperationTranscribe,
		OperationMerge,
		OperationLayer,
		OperationAddSubtitles,
		OperationReframe,
		OperationLipSync,
		OperationRemoveBackground,
		OperationRemoveImageBackground,
	}
}

// IsValidOperation checks if an operation string is a known operation
func IsValidOperation(op string) bool {
	switch op {
	case OperationGenerate,
		OperationGenerateImage,
		OperationGenerateAudio,
		OperationTranscribe,
		OperationMerge,
		OperationLayer,
		OperationAddSubtitles,
		OperationReframe,
		OperationLipSync,
		OperationRemoveBackground,
		OperationRemoveImageBackground:
		return true
	default:
		return false
	}
}

// IsSyncOperation reports whether an operation completes within the
// worker's own request cycle instead of waiting on a provider job.
func IsSyncOperation(op string) bool {
	switch op {
	case OperationMerge, OperationLayer, OperationAddSubtitles:
		return true
	default:
		return false
	}
}
