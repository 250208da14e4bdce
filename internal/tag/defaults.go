package tag

func fptr(v float64) *float64 { return &v }

// DefaultDefinitions returns the built-in demo catalog: two machines in
// one room plus an ambient sensor. Used when no catalog file is given,
// mainly together with the simulation adapter.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID:       "RM101.TT001.PV",
			Name:     "Compressor 1 bearing temperature",
			Units:    "degC",
			DataType: TypeFloat64,
			Access:   AccessRead,
			EngLow:   -10,
			EngHigh:  150,
			Deadband: 2,
			Thresholds: Thresholds{
				Hi:   fptr(80),
				HiHi: fptr(95),
			},
			Machine:  "COMP1",
			Group:    "temperature",
			Critical: true,
			Sim: &SimParams{
				Base:            62,
				NoiseAmplitude:  0.8,
				DriftRate:       1.5,
				LoadFactor:      true,
				StatusDependent: true,
				AmbientValue:    21,
			},
		},
		{
			ID:       "RM101.PT001.PV",
			Name:     "Compressor 1 discharge pressure",
			Units:    "bar",
			DataType: TypeFloat64,
			Access:   AccessRead,
			EngLow:   0,
			EngHigh:  16,
			Deadband: 0.2,
			Thresholds: Thresholds{
				Hi:   fptr(11),
				HiHi: fptr(13),
				Lo:   fptr(2),
				LoLo: fptr(0.5),
			},
			Machine:  "COMP1",
			Group:    "pressure",
			Critical: true,
			Sim: &SimParams{
				Base:            8.2,
				NoiseAmplitude:  0.1,
				LoadFactor:      true,
				StatusDependent: true,
				CorrelatedTags:  []string{"RM101.TT001.PV"},
			},
		},
		{
			ID:       "RM101.FT001.PV",
			Name:     "Compressor 1 flow",
			Units:    "m3/h",
			DataType: TypeFloat64,
			Access:   AccessRead,
			EngLow:   0,
			EngHigh:  500,
			Deadband: 5,
			Thresholds: Thresholds{
				Lo:   fptr(60),
				LoLo: fptr(25),
			},
			Machine: "COMP1",
			Group:   "flow",
			Sim: &SimParams{
				Base:            320,
				NoiseAmplitude:  6,
				LoadFactor:      true,
				StatusDependent: true,
			},
		},
		{
			ID:       "RM101.TT002.PV",
			Name:     "Pump 1 motor temperature",
			Units:    "degC",
			DataType: TypeFloat64,
			Access:   AccessRead,
			EngLow:   -10,
			EngHigh:  120,
			Deadband: 2,
			Thresholds: Thresholds{
				Hi:   fptr(70),
				HiHi: fptr(85),
			},
			Machine: "PUMP1",
			Group:   "temperature",
			Sim: &SimParams{
				Base:            48,
				NoiseAmplitude:  0.6,
				DriftRate:       1,
				LoadFactor:      true,
				StatusDependent: true,
				AmbientValue:    21,
			},
		},
		{
			ID:       "RM101.VT001.PV",
			Name:     "Pump 1 vibration",
			Units:    "mm/s",
			DataType: TypeFloat64,
			Access:   AccessRead,
			EngLow:   0,
			EngHigh:  50,
			Deadband: 0.5,
			Thresholds: Thresholds{
				Hi:   fptr(12),
				HiHi: fptr(20),
			},
			Machine: "PUMP1",
			Group:   "vibration",
			Sim: &SimParams{
				Base:            4.5,
				NoiseAmplitude:  0.4,
				LoadFactor:      true,
				StatusDependent: true,
			},
		},
		{
			ID:       "RM101.SC001.SP",
			Name:     "Pump 1 speed setpoint",
			Units:    "rpm",
			DataType: TypeInt32,
			Access:   AccessReadWrite,
			EngLow:   0,
			EngHigh:  3000,
			Machine:  "PUMP1",
			Group:    "control",
			Sim: &SimParams{
				Base: 1450,
			},
		},
		{
			ID:       "RM101.TT900.PV",
			Name:     "Room 101 ambient temperature",
			Units:    "degC",
			DataType: TypeFloat64,
			Access:   AccessRead,
			EngLow:   -20,
			EngHigh:  60,
			Deadband: 0.5,
			Thresholds: Thresholds{
				Hi: fptr(35),
				Lo: fptr(5),
			},
			Group: "temperature",
			Sim: &SimParams{
				Base:           21,
				NoiseAmplitude: 0.2,
				DriftRate:      0.8,
			},
		},
	}
}
