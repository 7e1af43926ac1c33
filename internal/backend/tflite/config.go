// Package tflite executes TensorFlow Lite flatbuffers. The interpreter links
// against libtensorflowlite_c and is only compiled with the tflite build tag;
// without it the engine always fails to load and the registry moves on.
package tflite

// Config locates the flatbuffer.
type Config struct {
	ModelPath string
	Threads   int
}
