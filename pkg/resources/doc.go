// Package resources locates the files behind declared stylesheet, script and
// library paths. A declared path is a fragment: it matches every file whose
// path ends with it at a directory boundary.
package resources
