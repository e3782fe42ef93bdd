package rate

import (
	"testing"
	"time"
)

func TestMemoryLimiterBurst(t *testing.T) {
	l := NewMemory()
	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("comment:ip:1.2.3.4", 3, time.Minute); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	ok, retry := l.Allow("comment:ip:1.2.3.4", 3, time.Minute)
	if ok {
		t.Fatalf("fourth request should be limited")
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry delay %v", retry)
	}

	// other keys are independent
	if ok, _ := l.Allow("comment:ip:5.6.7.8", 3, time.Minute); !ok {
		t.Fatalf("separate key should be allowed")
	}
}

func TestMemoryLimiterDisabled(t *testing.T) {
	l := NewMemory()
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow("k", 0, time.Minute); !ok {
			t.Fatalf("limit 0 means unlimited")
		}
	}
}
