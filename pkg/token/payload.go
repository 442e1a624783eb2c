package token

// Transfer payloads carried inside sealed tokens. Each variant matches one
// purpose; subject references are external identifiers only, never database
// row keys, so nothing inside a token is enumerable.

// UploadPayload authorizes uploading one part of an in-progress upload.
type UploadPayload struct {
	UploadExternalID string `json:"uploadExternalId"`
	PartNumber       int    `json:"partNumber"`
	RequesterID      string `json:"requesterId"`
}

// MultiFileDirectUploadPayload authorizes one batched multi-file direct
// upload into a workspace bucket.
type MultiFileDirectUploadPayload struct {
	StorageExternalID string `json:"storageExternalId"`
	Bucket            string `json:"bucket"`
	WorkspaceID       string `json:"workspaceId"`
	RequesterID       string `json:"requesterId"`
}

// DownloadPayload authorizes downloading one file, full or ranged.
//
// ContentType and ContentDisposition are fixed at issuance and emitted as
// response headers at redemption; a redemption that asks for a different
// content type than was issued is rejected as invalid.
type DownloadPayload struct {
	FileExternalID     string `json:"fileExternalId"`
	RequesterID        string `json:"requesterId"`
	ContentType        string `json:"contentType"`
	ContentDisposition string `json:"contentDisposition"`
}

// BulkDownloadPayload authorizes downloading a set of files in one archive.
type BulkDownloadPayload struct {
	FileExternalIDs []string `json:"fileExternalIds"`
	RequesterID     string   `json:"requesterId"`
}

// ZipEntry describes one entry inside a stored zip archive: where its
// compressed bytes live and how to inflate them. Captured at issuance from
// the archive's central directory so redemption never has to re-parse it.
type ZipEntry struct {
	FileName              string `json:"fileName"`
	CompressionMethod     uint16 `json:"compressionMethod"`
	CompressedSizeInBytes int64  `json:"compressedSizeInBytes"`
	SizeInBytes           int64  `json:"sizeInBytes"`
	DataOffset            int64  `json:"dataOffset"`
}

// ZipContentDownloadPayload authorizes downloading one entry out of a
// stored zip archive, with the same range semantics as a plain download.
type ZipContentDownloadPayload struct {
	FileExternalID string   `json:"fileExternalId"`
	RequesterID    string   `json:"requesterId"`
	ContentType    string   `json:"contentType"`
	Entry          ZipEntry `json:"entry"`
}
