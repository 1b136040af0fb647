package querier

import (
	"net/netip"
	"testing"
)

// TestResourceRecordAccessors checks that each accessor returns the typed
// value for its own record type and the zero value for any other.
func TestResourceRecordAccessors(t *testing.T) {
	v4 := netip.MustParseAddr("192.168.1.100")
	v6 := netip.MustParseAddr("fe80::1")

	tests := []struct {
		name   string
		record ResourceRecord
		check  func(t *testing.T, r *ResourceRecord)
	}{
		{
			name:   "A",
			record: ResourceRecord{Name: "printer.local", Type: RecordTypeA, TTL: 120, Data: v4},
			check: func(t *testing.T, r *ResourceRecord) {
				if got := r.AsA(); got != v4 {
					t.Errorf("AsA() = %v, want %v", got, v4)
				}
				if r.AsAAAA().IsValid() || r.AsPTR() != "" || r.AsSRV() != nil || r.AsTXT() != nil {
					t.Error("foreign accessors returned a value for an A record")
				}
			},
		},
		{
			name:   "AAAA",
			record: ResourceRecord{Name: "printer.local", Type: RecordTypeAAAA, TTL: 120, Data: v6},
			check: func(t *testing.T, r *ResourceRecord) {
				if got := r.AsAAAA(); got != v6 {
					t.Errorf("AsAAAA() = %v, want %v", got, v6)
				}
				if r.AsA().IsValid() {
					t.Error("AsA() returned a value for an AAAA record")
				}
			},
		},
		{
			name:   "A holding an IPv6 address",
			record: ResourceRecord{Type: RecordTypeA, Data: v6},
			check: func(t *testing.T, r *ResourceRecord) {
				if r.AsA().IsValid() {
					t.Error("AsA() accepted an IPv6 address")
				}
			},
		},
		{
			name:   "PTR",
			record: ResourceRecord{Name: "_http._tcp.local", Type: RecordTypePTR, TTL: 4500, Data: "Printer._http._tcp.local"},
			check: func(t *testing.T, r *ResourceRecord) {
				if got := r.AsPTR(); got != "Printer._http._tcp.local" {
					t.Errorf("AsPTR() = %q", got)
				}
			},
		},
		{
			name: "SRV",
			record: ResourceRecord{Name: "Printer._http._tcp.local", Type: RecordTypeSRV, TTL: 4500,
				Data: SRVData{Target: "printer.local", Port: 631}},
			check: func(t *testing.T, r *ResourceRecord) {
				srv := r.AsSRV()
				if srv == nil || srv.Target != "printer.local" || srv.Port != 631 {
					t.Errorf("AsSRV() = %+v", srv)
				}
			},
		},
		{
			name:   "TXT",
			record: ResourceRecord{Name: "Printer._http._tcp.local", Type: RecordTypeTXT, TTL: 4500, Data: []string{"path=/", "secure"}},
			check: func(t *testing.T, r *ResourceRecord) {
				txt := r.AsTXT()
				if len(txt) != 2 || txt[0] != "path=/" || txt[1] != "secure" {
					t.Errorf("AsTXT() = %v", txt)
				}
			},
		},
		{
			name:   "wrong data type",
			record: ResourceRecord{Type: RecordTypeSRV, Data: "not an SRV"},
			check: func(t *testing.T, r *ResourceRecord) {
				if r.AsSRV() != nil {
					t.Error("AsSRV() accepted a string")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, &tt.record)
		})
	}
}

// TestRecordTypeString checks the mnemonics of RFC 1035 §3.2.2 and
// RFC 3596 §2.1.
func TestRecordTypeString(t *testing.T) {
	tests := []struct {
		rt   RecordType
		want string
	}{
		{RecordTypeA, "A"},
		{RecordTypePTR, "PTR"},
		{RecordTypeTXT, "TXT"},
		{RecordTypeAAAA, "AAAA"},
		{RecordTypeSRV, "SRV"},
	}
	for _, tt := range tests {
		if got := tt.rt.String(); got != tt.want {
			t.Errorf("RecordType(%d).String() = %q, want %q", uint16(tt.rt), got, tt.want)
		}
	}
}

func TestAnswerTypeString(t *testing.T) {
	tests := []struct {
		t    AnswerType
		want string
	}{
		{0, "None"},
		{AnswerTXT, "TXT"},
		{AnswerServiceDomain | AnswerTXT, "ServiceDomain|TXT"},
		{AnswerHostDomainAndPort | AnswerIPv4 | AnswerIPv6, "HostDomainAndPort|IPv4|IPv6"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("AnswerType(%#x).String() = %q, want %q", uint8(tt.t), got, tt.want)
		}
	}
}

func printerAnswer() AnswerInfo {
	return AnswerInfo{
		ServiceDomain: "Printer._ipp._tcp.local",
		HostDomain:    "printer.local",
		Port:          631,
		TXT:           []TXTItem{{Key: "RP", Value: "ipp/print"}, {Key: "Color"}},
		IPv4:          []netip.Addr{netip.MustParseAddr("192.168.1.20")},
		IPv6:          []netip.Addr{netip.MustParseAddr("fe80::20")},
		Content:       AnswerServiceDomain | AnswerHostDomainAndPort | AnswerTXT | AnswerIPv4 | AnswerIPv6,
	}
}

// TestAnswerInfo_TXT checks that keys are looked up case-insensitively
// (RFC 6763 §6.4).
func TestAnswerInfo_TXT(t *testing.T) {
	a := printerAnswer()

	if v, ok := a.Value("rp"); !ok || v != "ipp/print" {
		t.Errorf("Value(rp) = %q, %v", v, ok)
	}
	if v, ok := a.Value("COLOR"); !ok || v != "" {
		t.Errorf("Value(COLOR) = %q, %v, want boolean attribute", v, ok)
	}
	if _, ok := a.Value("duplex"); ok {
		t.Error("Value(duplex) found a missing key")
	}

	kv := a.KeyValues()
	if len(kv) != 2 || kv["rp"] != "ipp/print" {
		t.Errorf("KeyValues() = %v", kv)
	}
	if got := a.InstanceName(); got != "Printer" {
		t.Errorf("InstanceName() = %q", got)
	}
}

func TestAnswerInfo_Records(t *testing.T) {
	a := printerAnswer()
	records := a.Records("_ipp._tcp.local")

	wantTypes := []RecordType{RecordTypePTR, RecordTypeSRV, RecordTypeTXT, RecordTypeA, RecordTypeAAAA}
	if len(records) != len(wantTypes) {
		t.Fatalf("Records() returned %d records, want %d", len(records), len(wantTypes))
	}
	for i, want := range wantTypes {
		if records[i].Type != want {
			t.Errorf("records[%d].Type = %s, want %s", i, records[i].Type, want)
		}
	}
	if srv := records[1].AsSRV(); srv == nil || srv.Port != 631 || srv.Target != "printer.local" {
		t.Errorf("SRV = %+v", srv)
	}
	if txt := records[2].AsTXT(); len(txt) != 2 || txt[0] != "RP=ipp/print" || txt[1] != "Color" {
		t.Errorf("TXT = %v", txt)
	}

	partial := AnswerInfo{ServiceDomain: a.ServiceDomain, Content: AnswerServiceDomain}
	if got := partial.Records("_ipp._tcp.local"); len(got) != 1 || got[0].AsPTR() != a.ServiceDomain {
		t.Errorf("partial Records() = %+v", got)
	}
}

func TestAnswerInfo_RecordsKeepEmptyValue(t *testing.T) {
	a := AnswerInfo{
		ServiceDomain: "Printer._ipp._tcp.local",
		TXT:           []TXTItem{{Key: "note", Empty: true}, {Key: "Color"}},
		Content:       AnswerTXT,
	}
	records := a.Records("_ipp._tcp.local")
	if len(records) != 1 {
		t.Fatalf("Records() returned %d records, want 1", len(records))
	}
	if txt := records[0].AsTXT(); len(txt) != 2 || txt[0] != "note=" || txt[1] != "Color" {
		t.Errorf("TXT = %v", txt)
	}
}
