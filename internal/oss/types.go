package oss

// Access is the permission requested for a signed URL.
type Access string

// Signed URL access modes.
const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// Object is a stored blob within a bucket.
type Object struct {
	BucketKey string `json:"bucketKey"`
	Key       string `json:"objectKey"`
	Size      int64  `json:"size"`
	SHA1      string `json:"sha1"`
	Location  string `json:"location"`
}

type createBucketRequest struct {
	BucketKey string `json:"bucketKey"`
	PolicyKey string `json:"policyKey"`
}

type bucketResponse struct {
	BucketKey string `json:"bucketKey"`
}

// listObjectsPage is one page of the paginated object listing. Next carries
// the server-supplied continuation cursor; empty means exhausted.
type listObjectsPage struct {
	Items []Object `json:"items"`
	Next  string   `json:"next,omitempty"`
}

type signedURLRequest struct {
	MinutesExpiration int `json:"minutesExpiration"`
}

type signedURLResponse struct {
	SignedURL string `json:"signedUrl"`
}
