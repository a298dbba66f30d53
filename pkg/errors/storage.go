package errors

// StorageError is a specialized error type for HAL-boundary operations against
// volume regions (super, cortex, bitmap, qmask, flux, horizon, journal).
// It embeds baseError to inherit standard error functionality, then adds
// region-specific fields that help pinpoint exactly where problems occurred.
type StorageError struct {
	*baseError
	region   string // Which region was being accessed ("cortex", "flux", "horizon", ...).
	offset   int    // Byte offset within the region where the problem happened.
	fileName string // Name of the backing file that caused the issue (dev-mode HAL).
	path     string // Path of the backing file that caused the issue (dev-mode HAL).
}

// NewStorageError creates a new storage-specific error.
func NewStorageError(err error, code ErrorCode, msg string) *StorageError {
	return &StorageError{baseError: NewBaseError(err, code, msg)}
}

// WithRegion sets which volume region was involved in the error.
func (se *StorageError) WithRegion(region string) *StorageError {
	se.region = region
	return se
}

// WithOffset records the byte position where the error occurred.
func (se *StorageError) WithOffset(offset int) *StorageError {
	se.offset = offset
	return se
}

// WithFileName captures which file was being processed when the error occurred.
func (se *StorageError) WithFileName(fileName string) *StorageError {
	se.fileName = fileName
	return se
}

// WithPath captures which path was being processed when the error occurred.
func (se *StorageError) WithPath(path string) *StorageError {
	se.path = path
	return se
}

// Region returns the volume region where the error occurred.
func (se *StorageError) Region() string {
	return se.region
}

// Offset returns the byte offset within the region where the error happened.
// Combined with Region, this gives you the exact location of the problem.
func (se *StorageError) Offset() int {
	return se.offset
}

// FileName returns the name of the file that was being processed.
func (se *StorageError) FileName() string {
	return se.fileName
}

// Path returns the path of the file that was being processed.
func (se *StorageError) Path() string {
	return se.path
}
