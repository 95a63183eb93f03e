package chat

var (
	IsTokenLimitError = isTokenLimitError
	CompressHistory   = compressHistory
	SummarizeContents = summarizeContents
)
