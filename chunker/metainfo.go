package chunker

import "encoding/json"

// metaInfoBody is the JSON shape carried in a meta_info envelope's body
// (spec §6): fileName, fileType, fileSize, fileChunks, chunkSize.
type metaInfoBody struct {
	FileName   string `json:"fileName"`
	FileType   string `json:"fileType"`
	FileSize   uint64 `json:"fileSize"`
	FileChunks uint64 `json:"fileChunks"`
	ChunkSize  uint64 `json:"chunkSize"`
}

// EncodeMetaInfo renders meta as the meta_info envelope body.
func EncodeMetaInfo(meta Metadata) (string, error) {
	body := metaInfoBody{
		FileName:   meta.FileName,
		FileType:   meta.FileType,
		FileSize:   meta.FileSize,
		FileChunks: meta.ChunkCount,
		ChunkSize:  meta.ChunkSize,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMetaInfo parses a meta_info envelope body into Metadata,
// validating it per spec §7 ("Metadata invalid"): non-positive
// chunk_size, an inconsistent chunk_count, or an empty file_name all
// fail.
func DecodeMetaInfo(body string) (Metadata, error) {
	var b metaInfoBody
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return Metadata{}, err
	}
	if b.FileName == "" {
		return Metadata{}, errEmptyFileName
	}
	if b.ChunkSize < 1 {
		return Metadata{}, errNonPositiveChunkSize
	}
	if b.FileChunks != chunkCount(b.FileSize, b.ChunkSize) {
		return Metadata{}, errInconsistentChunkCount
	}
	if b.FileType == "" {
		b.FileType = DefaultFileType
	}
	return Metadata{
		FileName:   b.FileName,
		FileType:   b.FileType,
		FileSize:   b.FileSize,
		ChunkSize:  b.ChunkSize,
		ChunkCount: b.FileChunks,
	}, nil
}
