// Package raster holds the pixel primitives of the frame pipeline.
//
// A RawFrame is a flat row-major pixel buffer with 1 byte (grayscale) or
// 3 bytes (RGB) per pixel. Alpha is never carried: screenshots are decoded
// and flattened to one of those two layouts before they reach the diff
// engine.
//
// Coordinates are always relative to the frame's top-left corner. A Rect
// derived from a frame of size W×H satisfies X+Width <= W and
// Y+Height <= H.
package raster
