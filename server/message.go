package server

// Messages returned in error responses.
const (
	MsgMissingFile = "No image was uploaded. Choose a photo and send it in the \"file\" form field."

	MsgInvalidImage = "We couldn't read the uploaded file as an image. Please upload a JPEG or PNG photo."

	MsgUploadTooLarge = "The uploaded image is too large. Please upload a smaller photo."

	MsgDetectionFailed = "Helmet detection failed for this image. Please try again later."

	MsgEncodeFailed = "The annotated image could not be produced."

	MsgNoMetrics = "The active detector does not report metrics."
)

// Error codes returned in error responses.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidImage   = "invalid_image"
	CodeTooLarge       = "upload_too_large"
	CodeDetection      = "detection_error"
	CodeEncode         = "encode_error"
	CodeNotFound       = "not_found"
)
