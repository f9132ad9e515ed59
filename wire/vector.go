package wire

import "math"

// Vec3 位置
type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) Add(o Vec3) Vec3              { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3              { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float32) Vec3         { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Lerp(to Vec3, t float32) Vec3 { return v.Add(to.Sub(v).Scale(t)) }

func (v Vec3) Len() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Quat 旋转，单位四元数
type Quat struct {
	X, Y, Z, W float32
}

var Identity = Quat{W: 1}

func (q Quat) Dot(o Quat) float32 { return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W }

func (q Quat) Normalize() Quat {
	n := float32(math.Sqrt(float64(q.Dot(q))))
	if n == 0 {
		return Identity
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Nlerp 沿最短路径的归一化线性插值
func (q Quat) Nlerp(to Quat, t float32) Quat {
	if q.Dot(to) < 0 {
		to = Quat{-to.X, -to.Y, -to.Z, -to.W}
	}
	return Quat{
		q.X + (to.X-q.X)*t,
		q.Y + (to.Y-q.Y)*t,
		q.Z + (to.Z-q.Z)*t,
		q.W + (to.W-q.W)*t,
	}.Normalize()
}
