// Command libcarx builds carx as a C shared library:
//
//	go build -buildmode=c-shared -o libcarx.so ./cmd/libcarx
//
// Every export takes NUL-terminated UTF-8 strings and returns true on
// success. Failures are logged to stderr.
package main

/*
#include <stdbool.h>
*/
import "C"

import "github.com/meigma/carx/ffi"

//export extract_all_car
func extract_all_car(carPath, outputPath *C.char) C.bool { //nolint:revive // C symbol name
	return C.bool(ffi.ExtractAllCar(C.GoString(carPath), C.GoString(outputPath)))
}

//export extract_file_car
func extract_file_car(carPath, filterFilePattern, outputPath *C.char) C.bool { //nolint:revive // C symbol name
	return C.bool(ffi.ExtractFileCar(
		C.GoString(carPath),
		C.GoString(filterFilePattern),
		C.GoString(outputPath),
	))
}

//export extract_verified_by_cid_from_car
func extract_verified_by_cid_from_car(carPath, cid, outputPath *C.char) C.bool { //nolint:revive // C symbol name
	return C.bool(ffi.ExtractVerifiedByCIDFromCar(
		C.GoString(carPath),
		C.GoString(cid),
		C.GoString(outputPath),
	))
}

func main() {}
