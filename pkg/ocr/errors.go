package ocr

import "errors"

// ErrNoTransactionID is returned when none of the extraction rules match the recognized text.
var ErrNoTransactionID = errors.New("no transaction id detected")

// ErrDecode is returned by Preprocess when the input is not a decodable raster image.
var ErrDecode = errors.New("decode image")
