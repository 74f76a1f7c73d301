package syscall

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/capability"
	"github.com/xuperchain/capkernel/kernel/common/xident"
)

func hashOf(v byte) common.Hash {
	var h common.Hash
	h[31] = v
	return h
}

func sampleRequests() []Request {
	return []Request{
		Call{Target: xident.FromName("write"), Payload: []byte("ping")},
		Register{
			ID:      xident.FromName("child"),
			Address: common.HexToAddress("0x1234"),
			Caps:    capability.List{capability.ProcedureEntry{}}.Words(),
		},
		Delete{ID: xident.FromName("child")},
		SetEntry{ID: xident.FromName("child")},
		Write{Key: hashOf(0x80), Value: hashOf(7)},
		Log{Topics: []common.Hash{hashOf(1), hashOf(2)}, Data: []byte("hello")},
		AccountCall{Address: common.HexToAddress("0xbeef"), Value: NewValue(1000), Data: []byte{1, 2}},
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, req := range sampleRequests() {
		t.Run(req.Kind().String(), func(t *testing.T) {
			raw, err := Encode(req)
			if err != nil {
				t.Fatalf("encode failed.err:%v", err)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("decode failed.err:%v", err)
			}
			if !reflect.DeepEqual(got, req) {
				t.Errorf("round trip mismatch\n got: %#v\nwant: %#v", got, req)
			}

			again, _ := Encode(got)
			if !bytes.Equal(raw, again) {
				t.Errorf("encoding is not deterministic")
			}
		})
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	raw, err := encMode.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(Write{Key: hashOf(1), Value: hashOf(2)})
	if err != nil {
		t.Fatal(err)
	}
	target := xident.FromName("x").Bytes()
	wrap := func(version, kind uint64, body interface{}) []byte {
		return mustMarshal(t, envelope{Version: version, Kind: kind, Body: mustMarshal(t, body)})
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xff, 0xff}},
		{"not a map", []byte{0x01}},
		{"truncated", valid[:len(valid)-1]},
		{"trailing", append(append([]byte{}, valid...), 0x00)},
		{"duplicate key", []byte{0xa2, 0x01, 0x01, 0x01, 0x01}},
		{"missing body", mustMarshal(t, envelope{Version: Version, Kind: uint64(KindCall)})},
		{"bad version", wrap(2, uint64(KindCall), callBody{Target: target})},
		{"unknown kind", wrap(Version, 9, callBody{Target: target})},
		{"wide kind", wrap(Version, 257, callBody{Target: target})},
		{"short identity", wrap(Version, uint64(KindDelete), identBody{ID: target[:23]})},
		{"unknown field", wrap(Version, uint64(KindCall), map[int]interface{}{1: target, 9: 1})},
		{"short address", wrap(Version, uint64(KindRegister), registerBody{ID: target, Address: []byte{1}})},
		{"missing value", wrap(Version, uint64(KindWrite), writeBody{Key: hashOf(1).Bytes()})},
		{"too many topics", wrap(Version, uint64(KindLog), logBody{Topics: [][]byte{
			target, target, target, target, target,
		}})},
		{"short topic", wrap(Version, uint64(KindLog), logBody{Topics: [][]byte{{1}}})},
		{"wide value", wrap(Version, uint64(KindAccountCall), accountCallBody{
			Address: common.HexToAddress("0x01").Bytes(),
			Value:   make([]byte, 33),
		})},
		{"body of wrong shape", wrap(Version, uint64(KindWrite), "string body")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req, err := Decode(c.data)
			if errors.Cause(err) != ErrMalformedSyscall {
				t.Errorf("expect ErrMalformedSyscall, got req:%v err:%v", req, err)
			}
		})
	}
}

func TestEncodeRejectsTooManyTopics(t *testing.T) {
	_, err := Encode(Log{Topics: make([]common.Hash, 5)})
	if errors.Cause(err) != ErrMalformedSyscall {
		t.Errorf("expect ErrMalformedSyscall, got %v", err)
	}
}

func TestAuthorizedEmptyList(t *testing.T) {
	for _, req := range sampleRequests() {
		if Authorized(req, nil) || Authorized(req, capability.List{}) {
			t.Errorf("%s authorized by empty list", req.Kind())
		}
	}
}

func TestAuthorized(t *testing.T) {
	var sw capability.StoreWrite
	sw.Location.SetUint64(0x80)
	sw.Size.SetUint64(0x10)
	logCap := capability.Log{Topics: 1}
	logCap.Pinned[0] = hashOf(1)
	caps := capability.List{
		capability.ProcedureCall{KeyPrefix: capability.KeyPrefix{Prefix: 40, Key: xident.FromName("write")}},
		capability.ProcedureRegister{KeyPrefix: capability.KeyPrefix{Prefix: 24, Key: xident.FromName("chi")}},
		capability.ProcedureDelete{KeyPrefix: capability.KeyPrefix{Prefix: 192, Key: xident.FromName("child")}},
		sw,
		logCap,
		capability.AccountCall{Address: common.HexToAddress("0xbeef")},
	}

	cases := []struct {
		req  Request
		want bool
	}{
		{Call{Target: xident.FromName("writer")}, true},
		{Call{Target: xident.FromName("other")}, false},
		{Register{ID: xident.FromName("child")}, true},
		{Register{ID: xident.FromName("parent")}, false},
		{Delete{ID: xident.FromName("child")}, true},
		{Delete{ID: xident.FromName("child2")}, false},
		{SetEntry{ID: xident.FromName("child")}, false},
		{Write{Key: hashOf(0x80)}, true},
		{Write{Key: hashOf(0x8f)}, true},
		{Write{Key: hashOf(0x90)}, false},
		{Log{Topics: []common.Hash{hashOf(1), hashOf(9)}}, true},
		{Log{Topics: []common.Hash{hashOf(2)}}, false},
		{Log{}, false},
		{AccountCall{Address: common.HexToAddress("0xbeef")}, true},
		{AccountCall{Address: common.HexToAddress("0xbeef"), Value: NewValue(1)}, false},
		{AccountCall{Address: common.HexToAddress("0xdead")}, false},
	}
	for i, c := range cases {
		if got := Authorized(c.req, caps); got != c.want {
			t.Errorf("case %d %s: authorized = %v, want %v", i, c.req.Kind(), got, c.want)
		}
	}

	if !Authorized(SetEntry{ID: xident.FromName("child")}, capability.List{capability.ProcedureEntry{}}) {
		t.Errorf("entry capability must authorize SetEntry")
	}
}
