package ref

import "sync"

// ModuleID is the "@module" tag written into every typed-object envelope
// produced by this package.
const ModuleID = "jobflow"

// Encodable is implemented by any value that wants to ride the typed-object
// wire envelope: it reports a stable class id plus its fields as a plain
// map, which are then recursively encoded.
type Encodable interface {
	EncodeRef() (classID string, fields map[string]any)
}

// Decoder rebuilds a Go value from an envelope's already-decoded fields.
type Decoder func(fields map[string]any) (any, error)

var (
	registryMu sync.RWMutex
	decoders   = map[string]Decoder{}
)

// RegisterType registers the decoder for classID. Call it from an init() in
// the package that owns the type, mirroring how OutputReference and Set
// register themselves below.
func RegisterType(classID string, decode Decoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	decoders[classID] = decode
}

func lookupDecoder(classID string) (Decoder, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := decoders[classID]
	return d, ok
}

func init() {
	RegisterType("OutputReference", decodeOutputReference)
	RegisterType("Set", decodeSet)
}

func decodeOutputReference(fields map[string]any) (any, error) {
	uuidStr, _ := fields["uuid"].(string)
	r := OutputReference{uuid: JobUUID(uuidStr)}
	if attrs, ok := fields["attributes"].([]any); ok {
		r.path = append([]PathElem{}, attrs...)
	}
	if stores, ok := fields["source_stores"].([]any); ok {
		for _, s := range stores {
			if str, ok := s.(string); ok {
				r.sourceStores = append(r.sourceStores, str)
			}
		}
	}
	return r, nil
}

func decodeSet(fields map[string]any) (any, error) {
	items, _ := fields["items"].([]any)
	return Set(items), nil
}
