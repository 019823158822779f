// Package artifact publishes finished videos.
//
// LocalStore copies the run output into the artifact directory; S3Store
// uploads it to a bucket. Both key artifacts by project and run so a new
// upload never touches the previous video until the caller removes it.
package artifact
