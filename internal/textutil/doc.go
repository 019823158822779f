// Package textutil turns user-supplied text such as project titles into
// names that are safe to use on disk and in download headers.
package textutil
