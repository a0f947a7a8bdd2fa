/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package adapter

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Canonical data types after alias resolution.
const (
	TypeBool    = "bool"
	TypeByte    = "byte"
	TypeInt16   = "int16"
	TypeUint16  = "uint16"
	TypeInt32   = "int32"
	TypeUint32  = "uint32"
	TypeFloat32 = "float32"
	TypeFloat64 = "float64"
)

var dataTypeAliases = map[string]string{
	"bool":    TypeBool,
	"boolean": TypeBool,
	"bit":     TypeBool,
	"byte":    TypeByte,
	"uint8":   TypeByte,
	"int":     TypeInt16,
	"int16":   TypeInt16,
	"short":   TypeInt16,
	"uint16":  TypeUint16,
	"word":    TypeUint16,
	"ushort":  TypeUint16,
	"dint":    TypeInt32,
	"int32":   TypeInt32,
	"uint32":  TypeUint32,
	"dword":   TypeUint32,
	"udint":   TypeUint32,
	"real":    TypeFloat32,
	"float":   TypeFloat32,
	"float32": TypeFloat32,
	"lreal":   TypeFloat64,
	"double":  TypeFloat64,
	"float64": TypeFloat64,
}

// reading is a decoded register payload before scaling.
type reading struct {
	raw     string
	value   float64
	integer bool
}

// CanonicalDataType resolves a declared data type to one of the Type constants.
// An empty declaration defaults to int16, the natural width of a Modbus register.
func CanonicalDataType(declared string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(declared))
	if d == "" {
		return TypeInt16, true
	}

	t, ok := dataTypeAliases[d]

	return t, ok
}

// byteSize is the payload width of a canonical type.
func byteSize(dataType string) int {
	switch dataType {
	case TypeBool, TypeByte:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeFloat64:
		return 8
	default:
		return 4
	}
}

// wordCount is the number of 16-bit registers a type occupies.
func wordCount(dataType string) uint16 {
	n := (byteSize(dataType) + 1) / 2
	if n < 1 {
		return 1
	}

	return uint16(n)
}

// signed16 applies the two's complement rule to a raw 16-bit register value.
func signed16(raw uint16) int64 {
	v := int64(raw)
	if v > math.MaxInt16 {
		v -= 65536
	}

	return v
}

// decodeBigEndian interprets a big-endian payload as the declared type.
func decodeBigEndian(declared string, data []byte) (reading, error) {
	raw := hex.EncodeToString(data)

	dataType, ok := CanonicalDataType(declared)
	if !ok {
		return reading{raw: raw}, fmt.Errorf("%w: %s", ErrUnsupportedDataType, declared)
	}

	if len(data) < byteSize(dataType) {
		return reading{raw: raw}, fmt.Errorf("%w: %s needs %d bytes, got %d",
			ErrShortPayload, dataType, byteSize(dataType), len(data))
	}

	switch dataType {
	case TypeBool:
		on := false

		for _, b := range data {
			if b != 0 {
				on = true
				break
			}
		}

		return boolReading(on), nil
	case TypeByte:
		return intReading(int64(data[0])), nil
	case TypeInt16:
		u := binary.BigEndian.Uint16(data)
		r := intReading(signed16(u))
		r.raw = strconv.FormatUint(uint64(u), 10)

		return r, nil
	case TypeUint16:
		return intReading(int64(binary.BigEndian.Uint16(data))), nil
	case TypeInt32:
		return intReading(int64(int32(binary.BigEndian.Uint32(data)))), nil
	case TypeUint32:
		return intReading(int64(binary.BigEndian.Uint32(data))), nil
	case TypeFloat32:
		return floatReading(float64(math.Float32frombits(binary.BigEndian.Uint32(data)))), nil
	case TypeFloat64:
		return floatReading(math.Float64frombits(binary.BigEndian.Uint64(data))), nil
	default:
		return reading{raw: raw}, fmt.Errorf("%w: %s", ErrUnsupportedDataType, declared)
	}
}

// coerce converts a numeric value reported by a typed protocol (OPC UA, SNMP, the
// simulator) into the register's declared type.
func coerce(declared string, v float64) (reading, error) {
	raw := strconv.FormatFloat(v, 'f', -1, 64)

	dataType, ok := CanonicalDataType(declared)
	if !ok {
		return reading{raw: raw}, fmt.Errorf("%w: %s", ErrUnsupportedDataType, declared)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		if dataType == TypeFloat32 || dataType == TypeFloat64 {
			return floatReading(v), nil
		}

		return reading{raw: raw}, fmt.Errorf("%w: non-finite value for %s", ErrUnsupportedDataType, dataType)
	}

	switch dataType {
	case TypeBool:
		return boolReading(v != 0), nil
	case TypeInt16:
		iv := int64(math.Round(v))
		if iv > math.MaxInt16 && iv <= math.MaxUint16 {
			iv = signed16(uint16(iv))
		}

		if iv < math.MinInt16 || iv > math.MaxInt16 {
			return reading{raw: raw}, fmt.Errorf("%w: %v out of int16 range", ErrUnsupportedDataType, v)
		}

		r := intReading(iv)
		r.raw = raw

		return r, nil
	case TypeByte, TypeUint16, TypeInt32, TypeUint32:
		r := intReading(int64(math.Round(v)))
		r.raw = raw

		return r, nil
	default:
		return floatReading(v), nil
	}
}

func boolReading(on bool) reading {
	if on {
		return reading{raw: "1", value: 1, integer: true}
	}

	return reading{raw: "0", value: 0, integer: true}
}

func intReading(v int64) reading {
	return reading{raw: strconv.FormatInt(v, 10), value: float64(v), integer: true}
}

func floatReading(v float64) reading {
	return reading{raw: strconv.FormatFloat(v, 'f', -1, 64), value: v}
}
